package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/recflow/internal/config"
	"github.com/rendis/recflow/internal/logging"
	"github.com/rendis/recflow/internal/seqclean"
	"github.com/rendis/recflow/internal/sink"
	"github.com/rendis/recflow/internal/source"
	"github.com/rendis/recflow/pkg/schema"
	"github.com/rendis/recflow/pkg/stream"
	"github.com/rendis/recflow/pkg/workflow"
)

// runPipeline wires the configured source, cleaning registry, and sink
// together and drives one full run.
func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Source.URL == "" {
		return schema.NewError(schema.ErrCodeConfig, "source url is required")
	}

	snk, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer snk.Close()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger.Info("starting run", "run_id", runID, "config", cfg.String())

	optionsJSON, err := json.Marshal(cfg.Options)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, "encode options").WithCause(err)
	}
	if err := snk.BeginRun(ctx, &sink.Run{
		ID:        runID,
		Query:     cfg.Source.Query,
		Options:   optionsJSON,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	var resolver seqclean.LineageResolver
	if cfg.Taxonomy.URL != "" {
		taxCfg := source.DefaultClientConfig()
		taxCfg.Timeout = cfg.TaxonomyTimeout()
		resolver = source.NewTaxonomyResolver(taxCfg, cfg.Taxonomy.URL, logger)
	}

	reg, err := seqclean.NewRegistry(resolver)
	if err != nil {
		return err
	}

	onFailure := func(ex *workflow.Execution) any {
		recordID, _ := ex.State()[seqclean.KeyID].(string)
		stateJSON, merr := json.Marshal(ex.State())
		if merr != nil {
			stateJSON = nil
		}
		if serr := snk.RecordFailure(ctx, &sink.Failure{
			RunID:    runID,
			RecordID: recordID,
			Reason:   ex.FailReason(),
			State:    stateJSON,
			At:       time.Now().UTC(),
		}); serr != nil {
			logger.Warn("failed to record rejection", "record_id", recordID, "error", serr)
		}
		return nil
	}

	factory := func() (*workflow.Workflow, error) {
		return workflow.New(reg, workflow.Config{
			Options:     workflow.Options(cfg.Options),
			Debug:       cfg.Debug,
			Initializer: seqclean.Initialize,
			OnFailure:   onFailure,
			Logger:      logger,
		})
	}

	srcCfg := source.ClientConfig{
		Timeout:     cfg.SourceTimeout(),
		MaxRetries:  cfg.Source.MaxRetries,
		RetryWaitMS: 100,
		Debug:       cfg.Debug,
	}
	src := source.NewRecordSource(srcCfg, cfg.Source.URL, cfg.Source.Query, cfg.Source.PageSize)

	runner := stream.NewRunner(cfg.Workers, factory)
	merged := workflow.NewStats()
	runErr := runner.Run(ctx, src, merged)

	stats := merged.Snapshot()
	if cerr := snk.CompleteRun(ctx, runID, stats); cerr != nil {
		logger.Warn("failed to complete run record", "error", cerr)
	}

	m := runner.Metrics()
	logger.Info("run finished",
		"run_id", runID,
		"processed", m.Processed,
		"faults", m.Faults,
		"stats", stats,
	)

	return runErr
}

func openSink(ctx context.Context, cfg config.Config) (sink.Sink, error) {
	if cfg.Sink.Path == "" {
		return sink.NewMemory(), nil
	}
	return sink.NewLibSQL(ctx, cfg.Sink.Path)
}
