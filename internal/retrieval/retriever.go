// Package retrieval runs the data-gathering stage: it fans out to the
// structured campaign adapter and the document search adapter, then merges
// whatever came back into one provenance-tagged bundle.
package retrieval

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/campa/internal/campaigns"
	"github.com/kalambet/campa/internal/docsearch"
	"github.com/kalambet/campa/internal/intent"
)

// Source kinds used in provenance tags and attributions.
const (
	SourceStructured = "structured"
	SourceDocument   = "document"
)

// Source records where part of a bundle came from, or that a source failed.
type Source struct {
	Kind     string
	Ref      string
	Score    float32
	Degraded bool
	Err      string
}

// Bundle is the normalized union of structured rows and document snippets
// passed to the response generator. It is transient and never persisted.
// An empty bundle is a valid value: it means no source produced data.
type Bundle struct {
	Rows     []campaigns.Campaign
	Summary  *campaigns.Summary
	Snippets []docsearch.Snippet
	Sources  []Source
}

// Empty reports whether no source produced any data.
func (b Bundle) Empty() bool {
	return len(b.Rows) == 0 && b.Summary == nil && len(b.Snippets) == 0
}

// Degraded reports whether at least one source failed.
func (b Bundle) Degraded() bool {
	for _, s := range b.Sources {
		if s.Degraded {
			return true
		}
	}
	return false
}

// DataQuerier is the structured-data capability contract.
type DataQuerier interface {
	Query(ctx context.Context, f campaigns.Filters) (campaigns.Result, error)
}

// DocSearcher is the document-search capability contract.
type DocSearcher interface {
	Search(ctx context.Context, query string) ([]docsearch.Snippet, error)
}

// Retriever issues adapter calls selected by the query analysis. Adapter
// failures become degraded-source markers, never errors: downstream
// generation must always receive a bundle.
type Retriever struct {
	data DataQuerier
	docs DocSearcher
}

// NewRetriever creates a Retriever over the two capability adapters.
func NewRetriever(data DataQuerier, docs DocSearcher) *Retriever {
	return &Retriever{data: data, docs: docs}
}

// Retrieve fires the adapter calls the analysis asks for. The two calls are
// independent and run concurrently; results are merged by concatenation with
// provenance tags, not deduplicated across adapters.
func (r *Retriever) Retrieve(ctx context.Context, query string, a intent.Analysis) Bundle {
	var (
		dataRes   campaigns.Result
		dataErr   error
		snippets  []docsearch.Snippet
		searchErr error
	)

	g, gCtx := errgroup.WithContext(ctx)

	if a.NeedsData && r.data != nil {
		g.Go(func() error {
			dataRes, dataErr = r.data.Query(gCtx, filtersFrom(a))
			return nil
		})
	}
	if a.NeedsDocSearch && r.docs != nil {
		g.Go(func() error {
			snippets, searchErr = r.docs.Search(gCtx, query)
			return nil
		})
	}
	g.Wait()

	var b Bundle
	if a.NeedsData && r.data != nil {
		if dataErr != nil {
			slog.Warn("structured data retrieval degraded", "error", dataErr)
			b.Sources = append(b.Sources, Source{Kind: SourceStructured, Degraded: true, Err: dataErr.Error()})
		} else {
			b.Rows = dataRes.Rows
			b.Summary = dataRes.Summary
			b.Sources = append(b.Sources, Source{Kind: SourceStructured, Ref: dataRes.SourceRef})
		}
	}
	if a.NeedsDocSearch && r.docs != nil {
		if searchErr != nil {
			slog.Warn("document search degraded", "error", searchErr)
			b.Sources = append(b.Sources, Source{Kind: SourceDocument, Degraded: true, Err: searchErr.Error()})
		} else {
			b.Snippets = snippets
			for _, s := range snippets {
				b.Sources = append(b.Sources, Source{Kind: SourceDocument, Ref: s.SourceRef, Score: s.Score})
			}
		}
	}
	return b
}

// filtersFrom maps extracted entities onto the structured query filters.
func filtersFrom(a intent.Analysis) campaigns.Filters {
	f := campaigns.Filters{
		CampaignIDs: a.Entities.CampaignIDs,
		Compare:     a.Intent == intent.IntentComparison && len(a.Entities.CampaignIDs) >= 2,
	}
	if len(a.Entities.Metrics) > 0 {
		f.Metric = a.Entities.Metrics[0]
	}
	if len(a.Entities.Topics) > 0 {
		f.Topic = a.Entities.Topics[0]
	}
	if len(a.Entities.Segments) > 0 {
		f.Segment = a.Entities.Segments[0]
	}
	return f
}
