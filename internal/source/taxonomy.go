package source

import (
	"context"
	"encoding/xml"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/rendis/recflow/internal/seqclean"
)

// taxonDoc is the wire shape of an XML taxonomy lookup response:
//
//	<taxon scientificName="Vibrio fischeri" taxId="668">
//	  <lineage>
//	    <taxon scientificName="Bacteria"/>
//	    <taxon scientificName="Proteobacteria"/>
//	  </lineage>
//	</taxon>
//
// Lineage elements arrive leaf-to-root and are reversed before returning.
type taxonDoc struct {
	XMLName        xml.Name `xml:"taxon"`
	ScientificName string   `xml:"scientificName,attr"`
	Lineage        struct {
		Taxa []struct {
			ScientificName string `xml:"scientificName,attr"`
		} `xml:"taxon"`
	} `xml:"lineage"`
}

// TaxonomyResolver resolves taxon IDs to root-to-leaf lineages over an XML
// taxonomy endpoint. Every lookup failure, whether transport,
// HTTP status, decode, or an empty document, surfaces as absent, never as an error.
type TaxonomyResolver struct {
	client  *resty.Client
	baseURL string
	logger  *slog.Logger
}

// NewTaxonomyResolver creates a resolver against the endpoint; the taxon ID
// is appended to baseURL as a path segment.
func NewTaxonomyResolver(cfg ClientConfig, baseURL string, logger *slog.Logger) *TaxonomyResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaxonomyResolver{
		client:  newClient(cfg),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Resolve returns the ordered root-to-leaf ancestor names for the taxon, or
// absent when the lookup cannot be served.
func (r *TaxonomyResolver) Resolve(ctx context.Context, taxonID string) ([]string, bool) {
	if taxonID == "" {
		return nil, false
	}

	resp, err := r.client.R().
		SetContext(ctx).
		Get(r.baseURL + "/" + taxonID)
	if err != nil {
		r.logger.Debug("taxonomy lookup failed",
			slog.String("taxon_id", taxonID),
			slog.String("error", err.Error()))
		return nil, false
	}
	if resp.IsError() {
		r.logger.Debug("taxonomy lookup rejected",
			slog.String("taxon_id", taxonID),
			slog.Int("status", resp.StatusCode()))
		return nil, false
	}

	var doc taxonDoc
	if err := xml.Unmarshal(resp.Body(), &doc); err != nil {
		r.logger.Debug("taxonomy response unparsable",
			slog.String("taxon_id", taxonID),
			slog.String("error", err.Error()))
		return nil, false
	}

	if len(doc.Lineage.Taxa) == 0 {
		return nil, false
	}

	// Reverse leaf-to-root into root-to-leaf, then append the taxon itself.
	names := make([]string, 0, len(doc.Lineage.Taxa)+1)
	for i := len(doc.Lineage.Taxa) - 1; i >= 0; i-- {
		if n := doc.Lineage.Taxa[i].ScientificName; n != "" {
			names = append(names, n)
		}
	}
	if doc.ScientificName != "" {
		names = append(names, doc.ScientificName)
	}
	return names, true
}

var _ seqclean.LineageResolver = (*TaxonomyResolver)(nil)
