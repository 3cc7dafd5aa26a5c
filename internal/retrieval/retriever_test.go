package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/campa/internal/campaigns"
	"github.com/kalambet/campa/internal/docsearch"
	"github.com/kalambet/campa/internal/intent"
)

type fakeData struct {
	result  campaigns.Result
	err     error
	gotF    campaigns.Filters
	called  bool
}

func (f *fakeData) Query(ctx context.Context, filters campaigns.Filters) (campaigns.Result, error) {
	f.called = true
	f.gotF = filters
	return f.result, f.err
}

type fakeDocs struct {
	snippets []docsearch.Snippet
	err      error
	called   bool
}

func (f *fakeDocs) Search(ctx context.Context, query string) ([]docsearch.Snippet, error) {
	f.called = true
	return f.snippets, f.err
}

// TestRetrieveDataOnly fires only the structured adapter.
func TestRetrieveDataOnly(t *testing.T) {
	data := &fakeData{result: campaigns.Result{
		Rows:      []campaigns.Campaign{{CampaignID: 101}},
		SourceRef: "campaigns/top/conversion_rate",
	}}
	docs := &fakeDocs{}
	r := NewRetriever(data, docs)

	a := intent.Analysis{
		Intent:    intent.IntentPerformance,
		NeedsData: true,
		Entities:  intent.Entities{Metrics: []string{"conversion_rate"}},
	}
	b := r.Retrieve(context.Background(), "top campaigns", a)

	if !data.called {
		t.Error("structured adapter not called")
	}
	if docs.called {
		t.Error("document adapter called without needs_document_search")
	}
	if len(b.Rows) != 1 {
		t.Errorf("rows = %d, want 1", len(b.Rows))
	}
	if len(b.Sources) != 1 || b.Sources[0].Kind != SourceStructured || b.Sources[0].Degraded {
		t.Errorf("sources = %+v", b.Sources)
	}
	if data.gotF.Metric != "conversion_rate" {
		t.Errorf("filters metric = %q", data.gotF.Metric)
	}
}

// TestRetrieveBothAdapters merges rows and snippets by concatenation.
func TestRetrieveBothAdapters(t *testing.T) {
	data := &fakeData{result: campaigns.Result{Rows: []campaigns.Campaign{{CampaignID: 1}}, SourceRef: "campaigns/1"}}
	docs := &fakeDocs{snippets: []docsearch.Snippet{{Text: "report", SourceRef: "q3.pdf", Score: 0.8}}}
	r := NewRetriever(data, docs)

	a := intent.Analysis{Intent: intent.IntentPerformance, NeedsData: true, NeedsDocSearch: true}
	b := r.Retrieve(context.Background(), "q", a)

	if len(b.Rows) != 1 || len(b.Snippets) != 1 {
		t.Errorf("rows=%d snippets=%d, want 1/1", len(b.Rows), len(b.Snippets))
	}
	if len(b.Sources) != 2 {
		t.Errorf("sources = %+v, want structured + document", b.Sources)
	}
	if b.Degraded() {
		t.Error("bundle reported degraded with healthy adapters")
	}
}

// TestRetrievePartialFailure: structured fails, documents succeed. The bundle
// carries snippets plus a degraded marker for the structured source.
func TestRetrievePartialFailure(t *testing.T) {
	data := &fakeData{err: errors.New("timeout")}
	docs := &fakeDocs{snippets: []docsearch.Snippet{{Text: "insight", SourceRef: "summary.pdf"}}}
	r := NewRetriever(data, docs)

	a := intent.Analysis{NeedsData: true, NeedsDocSearch: true, Intent: intent.IntentPerformance}
	b := r.Retrieve(context.Background(), "q", a)

	if len(b.Snippets) != 1 {
		t.Errorf("snippets = %d, want 1", len(b.Snippets))
	}
	if !b.Degraded() {
		t.Error("bundle not marked degraded")
	}
	var foundDegraded bool
	for _, s := range b.Sources {
		if s.Kind == SourceStructured && s.Degraded && s.Err != "" {
			foundDegraded = true
		}
	}
	if !foundDegraded {
		t.Errorf("no degraded structured marker in %+v", b.Sources)
	}
}

// TestRetrieveTotalFailure: all adapters fail; retrieval still succeeds with
// an empty bundle.
func TestRetrieveTotalFailure(t *testing.T) {
	data := &fakeData{err: errors.New("down")}
	docs := &fakeDocs{err: errors.New("down")}
	r := NewRetriever(data, docs)

	a := intent.Analysis{NeedsData: true, NeedsDocSearch: true, Intent: intent.IntentPerformance}
	b := r.Retrieve(context.Background(), "q", a)

	if !b.Empty() {
		t.Error("bundle not empty after total failure")
	}
	if len(b.Sources) != 2 {
		t.Errorf("sources = %+v, want two degraded markers", b.Sources)
	}
}

// TestFiltersFromComparison maps a comparison intent with two IDs onto the
// compare filter.
func TestFiltersFromComparison(t *testing.T) {
	a := intent.Analysis{
		Intent:   intent.IntentComparison,
		Entities: intent.Entities{CampaignIDs: []int{101, 102}},
	}
	f := filtersFrom(a)
	if !f.Compare {
		t.Error("Compare = false, want true")
	}
	if len(f.CampaignIDs) != 2 {
		t.Errorf("CampaignIDs = %v", f.CampaignIDs)
	}
}
