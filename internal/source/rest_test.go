package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/recflow/pkg/schema"
)

func testClientConfig() ClientConfig {
	return ClientConfig{Timeout: 2 * time.Second}
}

func TestRecordSourcePagination(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		requests = append(requests, cursor)

		w.Header().Set("Content-Type", "application/json")
		switch cursor {
		case "":
			fmt.Fprint(w, `{"records":[{"id":"a"},{"id":"b"}],"next":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"records":[{"id":"c"}],"next":""}`)
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
	}))
	defer srv.Close()

	src := NewRecordSource(testClientConfig(), srv.URL, "16S", 2)

	var ids []string
	for {
		item, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rec := item.(map[string]any)
		ids = append(ids, rec["id"].(string))
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, []string{"", "p2"}, requests)

	// Exhausted source stays exhausted.
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecordSourcePassesQueryAndLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rRNA", r.URL.Query().Get("query"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(recordPage{})
	}))
	defer srv.Close()

	src := NewRecordSource(testClientConfig(), srv.URL, "rRNA", 25)
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecordSourceHTTPErrorIsSourceFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewRecordSource(testClientConfig(), srv.URL, "", 10)
	_, err := src.Next(context.Background())
	require.Error(t, err)

	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeSource, ferr.Code)
}

func TestTaxonomyResolverParsesLineage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/668", r.URL.Path)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<taxon scientificName="Vibrio fischeri" taxId="668">
  <lineage>
    <taxon scientificName="Vibrio"/>
    <taxon scientificName="Proteobacteria"/>
    <taxon scientificName="Bacteria"/>
  </lineage>
</taxon>`)
	}))
	defer srv.Close()

	r := NewTaxonomyResolver(testClientConfig(), srv.URL, nil)
	lineage, ok := r.Resolve(context.Background(), "668")
	require.True(t, ok)
	assert.Equal(t, []string{"Bacteria", "Proteobacteria", "Vibrio", "Vibrio fischeri"}, lineage)
}

func TestTaxonomyResolverFailuresAreAbsent(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "gone", http.StatusNotFound)
			},
		},
		{
			name: "unparsable body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `<<<not xml`)
			},
		},
		{
			name: "empty lineage",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `<taxon scientificName="orphan"><lineage/></taxon>`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r := NewTaxonomyResolver(testClientConfig(), srv.URL, nil)
			lineage, ok := r.Resolve(context.Background(), "1")
			assert.False(t, ok)
			assert.Nil(t, lineage)
		})
	}
}

func TestTaxonomyResolverUnreachableIsAbsent(t *testing.T) {
	r := NewTaxonomyResolver(testClientConfig(), "http://127.0.0.1:9", nil)
	_, ok := r.Resolve(context.Background(), "1")
	assert.False(t, ok)
}

func TestTaxonomyResolverEmptyIDIsAbsent(t *testing.T) {
	r := NewTaxonomyResolver(testClientConfig(), "http://example.invalid", nil)
	_, ok := r.Resolve(context.Background(), "")
	assert.False(t, ok)
}
