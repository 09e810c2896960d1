// Package source implements the upstream collaborators of the cleaning
// pipeline: a paged REST client producing the lazy record sequence, and an
// XML taxonomy lookup backing the lineage resolver. The engine only ever
// sees their boundary contracts (workflow.Source, seqclean.LineageResolver).
package source

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rendis/recflow/pkg/schema"
	"github.com/rendis/recflow/pkg/workflow"
)

// ClientConfig tunes the shared HTTP client.
type ClientConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryWaitMS int
	Debug       bool
}

// DefaultClientConfig mirrors the usual production settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		RetryWaitMS: 100,
	}
}

func newClient(cfg ClientConfig) *resty.Client {
	return resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond).
		SetDebug(cfg.Debug)
}

// recordPage is the wire shape of one page of records.
type recordPage struct {
	Records []map[string]any `json:"records"`
	Next    string           `json:"next"`
}

// RecordSource is a lazy, non-restartable workflow.Source over a paged REST
// endpoint. Pages are fetched on demand: the engine suspends only here, at
// the boundary pull.
type RecordSource struct {
	client   *resty.Client
	url      string
	query    string
	pageSize int

	buf    []map[string]any
	cursor string
	done   bool
}

// NewRecordSource creates a source over the endpoint. query is passed through
// as the upstream search expression; pageSize <= 0 defaults to 100.
func NewRecordSource(cfg ClientConfig, url, query string, pageSize int) *RecordSource {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &RecordSource{
		client:   newClient(cfg),
		url:      url,
		query:    query,
		pageSize: pageSize,
	}
}

// Next returns the next raw record, fetching the following page when the
// buffer drains. io.EOF marks exhaustion; transport and decode failures are
// SOURCE_ERROR faults.
func (s *RecordSource) Next(ctx context.Context) (any, error) {
	for len(s.buf) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if err := s.fetchPage(ctx); err != nil {
			return nil, err
		}
	}

	rec := s.buf[0]
	s.buf = s.buf[1:]
	return rec, nil
}

func (s *RecordSource) fetchPage(ctx context.Context) error {
	var page recordPage

	req := s.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(s.pageSize)).
		SetResult(&page)
	if s.query != "" {
		req.SetQueryParam("query", s.query)
	}
	if s.cursor != "" {
		req.SetQueryParam("cursor", s.cursor)
	}

	resp, err := req.Get(s.url)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSource, "fetch records: %s", err.Error()).WithCause(err)
	}
	if resp.IsError() {
		return schema.NewErrorf(schema.ErrCodeSource, "fetch records: %s from %s", resp.Status(), s.url).
			WithDetails(map[string]any{"status_code": resp.StatusCode()})
	}

	s.buf = page.Records
	s.cursor = page.Next
	if s.cursor == "" {
		s.done = true
	}
	return nil
}

var _ workflow.Source = (*RecordSource)(nil)
