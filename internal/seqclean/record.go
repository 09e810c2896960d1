// Package seqclean is a client of the workflow engine: the canonical
// sequence-record cleaning pipeline. The engine knows nothing about any of
// this; everything here is ordinary step and initializer code.
package seqclean

import (
	"context"
	"strings"

	"github.com/rendis/recflow/pkg/schema"
	"github.com/rendis/recflow/pkg/workflow"
)

// State keys evolved by the cleaning steps.
const (
	KeyID          = "id"
	KeySequence    = "sequence"
	KeyDescription = "description"
	KeyLength      = "length"
	KeyGC          = "gc_content"
	KeyTaxonID     = "taxon_id"
	KeyLineage     = "lineage"
)

// RawRecord is the raw item shape produced by the record source.
type RawRecord struct {
	ID          string `json:"id"`
	Sequence    string `json:"sequence"`
	Description string `json:"description"`
	TaxonID     string `json:"taxon_id"`
}

// Initialize builds the fresh per-record state. It accepts either a
// *RawRecord or the map shape a JSON source produces.
func Initialize(_ context.Context, item any) (workflow.State, error) {
	switch raw := item.(type) {
	case *RawRecord:
		return stateFrom(raw), nil
	case RawRecord:
		return stateFrom(&raw), nil
	case map[string]any:
		rec := &RawRecord{}
		rec.ID, _ = raw["id"].(string)
		rec.Sequence, _ = raw["sequence"].(string)
		rec.Description, _ = raw["description"].(string)
		rec.TaxonID, _ = raw["taxon_id"].(string)
		return stateFrom(rec), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported record item type %T", item)
}

func stateFrom(raw *RawRecord) workflow.State {
	return workflow.State{
		KeyID:          raw.ID,
		KeySequence:    strings.ToUpper(raw.Sequence),
		KeyDescription: raw.Description,
		KeyLength:      len(raw.Sequence),
		KeyTaxonID:     raw.TaxonID,
	}
}

// gcContent returns the G+C fraction of the sequence, counting both DNA and
// RNA alphabets. Empty sequences yield 0.
func gcContent(seq string) float64 {
	if seq == "" {
		return 0
	}
	gc := 0
	for _, b := range seq {
		switch b {
		case 'G', 'C', 'g', 'c':
			gc++
		}
	}
	return float64(gc) / float64(len(seq))
}
