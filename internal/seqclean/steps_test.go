package seqclean

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/recflow/pkg/workflow"
)

func newCleaner(t *testing.T, opts workflow.Options, resolver LineageResolver) (*workflow.Workflow, *[]string) {
	t.Helper()
	reg, err := NewRegistry(resolver)
	require.NoError(t, err)

	var failures []string
	w, err := workflow.New(reg, workflow.Config{
		Options:     opts,
		Debug:       true,
		Initializer: Initialize,
		OnSuccess:   func(ex *workflow.Execution) any { return ex.State() },
		OnFailure: func(ex *workflow.Execution) any {
			id, _ := ex.State()[KeyID].(string)
			failures = append(failures, id)
			return nil
		},
	})
	require.NoError(t, err)
	return w, &failures
}

func TestForceToRNARunsFirst(t *testing.T) {
	w, _ := newCleaner(t, nil, nil)

	res, err := w.Process(context.Background(), RawRecord{ID: "r1", Sequence: "ACGT"})
	require.NoError(t, err)

	state := res.(workflow.State)
	assert.Equal(t, "ACGU", state[KeySequence])
	assert.InDelta(t, 0.5, state[KeyGC], 1e-9)
}

func TestMinimumLengthFilter(t *testing.T) {
	w, failures := newCleaner(t, workflow.Options{
		OptFilterLength: true,
		OptMinLength:    50,
	}, nil)

	_, err := w.Process(context.Background(), RawRecord{ID: "short", Sequence: "ACGT"})
	require.NoError(t, err)

	assert.Equal(t, []string{"short"}, *failures)
	assert.Equal(t, int64(1), w.Stats().Get(OptMinLength))
}

func TestLengthFilterDisabledByOption(t *testing.T) {
	w, failures := newCleaner(t, workflow.Options{
		OptFilterLength: false,
		OptMinLength:    50,
	}, nil)

	_, err := w.Process(context.Background(), RawRecord{ID: "short", Sequence: "ACGT"})
	require.NoError(t, err)

	assert.Empty(t, *failures)
	assert.Zero(t, w.Stats().Get(OptMinLength))
}

func TestMaximumLengthFilter(t *testing.T) {
	w, failures := newCleaner(t, workflow.Options{
		OptFilterLength: true,
		OptMaxLength:    3,
	}, nil)

	_, err := w.Process(context.Background(), RawRecord{ID: "long", Sequence: "ACGTACGT"})
	require.NoError(t, err)

	assert.Equal(t, []string{"long"}, *failures)
	assert.Equal(t, int64(1), w.Stats().Get(OptMaxLength))
}

func TestGCBoundFilters(t *testing.T) {
	tests := []struct {
		name     string
		opts     workflow.Options
		sequence string
		failed   bool
		counter  string
	}{
		{
			name:     "below minimum gc",
			opts:     workflow.Options{OptFilterGC: true, OptMinGC: 0.5},
			sequence: "AUAU",
			failed:   true,
			counter:  OptMinGC,
		},
		{
			name:     "above minimum gc passes",
			opts:     workflow.Options{OptFilterGC: true, OptMinGC: 0.5},
			sequence: "GCGC",
			failed:   false,
		},
		{
			name:     "above maximum gc",
			opts:     workflow.Options{OptFilterGC: true, OptMaxGC: 0.5},
			sequence: "GCGCGCGA",
			failed:   true,
			counter:  OptMaxGC,
		},
		{
			name:     "at maximum gc passes",
			opts:     workflow.Options{OptFilterGC: true, OptMaxGC: 0.5},
			sequence: "GCAU",
			failed:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, failures := newCleaner(t, tt.opts, nil)
			_, err := w.Process(context.Background(), RawRecord{ID: "rec", Sequence: tt.sequence})
			require.NoError(t, err)

			if tt.failed {
				assert.Equal(t, []string{"rec"}, *failures)
				assert.Equal(t, int64(1), w.Stats().Get(tt.counter))
			} else {
				assert.Empty(t, *failures)
			}
		})
	}
}

func TestDescriptionKeywordFilter(t *testing.T) {
	opts := workflow.Options{OptKeywords: []string{"16S", "ribosomal"}}

	w, failures := newCleaner(t, opts, nil)
	_, err := w.Process(context.Background(), RawRecord{
		ID:          "keep",
		Sequence:    "ACGU",
		Description: "Vibrio fischeri 16S rRNA",
	})
	require.NoError(t, err)
	assert.Empty(t, *failures)

	_, err = w.Process(context.Background(), RawRecord{
		ID:          "drop",
		Sequence:    "ACGU",
		Description: "whole genome shotgun",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"drop"}, *failures)
	assert.Equal(t, int64(1), w.Stats().Get("description-keyword"))
}

func TestDescriptionKeywordSkippedWithoutOption(t *testing.T) {
	w, failures := newCleaner(t, nil, nil)
	_, err := w.Process(context.Background(), RawRecord{
		ID:          "r",
		Sequence:    "ACGU",
		Description: "whole genome shotgun",
	})
	require.NoError(t, err)
	assert.Empty(t, *failures)
}

func TestFetchLineage(t *testing.T) {
	resolver := ResolverFunc(func(_ context.Context, taxonID string) ([]string, bool) {
		if taxonID == "666" {
			return []string{"Bacteria", "Proteobacteria", "Vibrio"}, true
		}
		return nil, false
	})

	w, failures := newCleaner(t, workflow.Options{OptResolveLineage: true}, resolver)

	res, err := w.Process(context.Background(), RawRecord{ID: "a", Sequence: "ACGU", TaxonID: "666"})
	require.NoError(t, err)
	state := res.(workflow.State)
	assert.Equal(t, []string{"Bacteria", "Proteobacteria", "Vibrio"}, state[KeyLineage])

	// Unresolvable lineage is absent, not a failure.
	res, err = w.Process(context.Background(), RawRecord{ID: "b", Sequence: "ACGU", TaxonID: "999"})
	require.NoError(t, err)
	state = res.(workflow.State)
	assert.NotContains(t, state, KeyLineage)
	assert.Empty(t, *failures)
	assert.Equal(t, int64(1), w.Stats().Get("lineage-unresolved"))
}

func TestLineageSkippedWithoutTaxonID(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(context.Context, string) ([]string, bool) {
		calls++
		return nil, false
	})

	w, _ := newCleaner(t, workflow.Options{OptResolveLineage: true}, resolver)
	_, err := w.Process(context.Background(), RawRecord{ID: "x", Sequence: "ACGU"})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestInitializeFromMap(t *testing.T) {
	state, err := Initialize(context.Background(), map[string]any{
		"id":          "m1",
		"sequence":    "acgt",
		"description": "test",
		"taxon_id":    "42",
	})
	require.NoError(t, err)

	assert.Equal(t, "m1", state[KeyID])
	assert.Equal(t, "ACGT", state[KeySequence])
	assert.Equal(t, 4, state[KeyLength])
}

func TestInitializeRejectsUnknownType(t *testing.T) {
	_, err := Initialize(context.Background(), 42)
	require.Error(t, err)
}

func TestGCContent(t *testing.T) {
	assert.Zero(t, gcContent(""))
	assert.InDelta(t, 1.0, gcContent("GGCC"), 1e-9)
	assert.InDelta(t, 0.25, gcContent("GAAA"), 1e-9)
}
