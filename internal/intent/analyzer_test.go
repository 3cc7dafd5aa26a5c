package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/campa/internal/llm"
)

// fakeChatter returns canned responses in sequence.
type fakeChatter struct {
	responses []string
	errs      []error
	calls     int
	prompts   [][]llm.Message
}

func (f *fakeChatter) Chat(ctx context.Context, model string, messages []llm.Message, schema *llm.Schema) (string, llm.Usage, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, messages)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp string
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, llm.Usage{InputTokens: 10, OutputTokens: 5}, err
}

// TestAnalyzePerformanceQuery checks the canonical top-campaigns phrasing.
func TestAnalyzePerformanceQuery(t *testing.T) {
	f := &fakeChatter{responses: []string{
		`{"intent":"performance","entities":{"metrics":["conversion_rate"]},"needs_data":true,"needs_document_search":false}`,
	}}
	a := NewAnalyzer(f, "phi3.5")

	got, usage := a.Analyze(context.Background(), "What are the top 5 campaigns by conversion rate?", nil)

	if got.Intent != IntentPerformance {
		t.Errorf("Intent = %q, want performance", got.Intent)
	}
	if !got.NeedsData {
		t.Error("NeedsData = false, want true")
	}
	if got.NeedsDocSearch {
		t.Error("NeedsDocSearch = true, want false")
	}
	if len(got.Entities.Metrics) != 1 || got.Entities.Metrics[0] != "conversion_rate" {
		t.Errorf("Metrics = %v, want [conversion_rate]", got.Entities.Metrics)
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want 10/5", usage)
	}
}

// TestAnalyzeGeneralQuery checks that greetings need neither data nor search.
func TestAnalyzeGeneralQuery(t *testing.T) {
	f := &fakeChatter{responses: []string{
		`{"intent":"general","entities":{},"needs_data":false,"needs_document_search":false}`,
	}}
	a := NewAnalyzer(f, "phi3.5")

	got, _ := a.Analyze(context.Background(), "Hello, what can you do?", nil)
	if got.Intent != IntentGeneral || got.NeedsData || got.NeedsDocSearch {
		t.Errorf("got %+v, want general intent with no retrieval flags", got)
	}
}

// TestMalformedOutputRetriesOnceThenSucceeds verifies the strict-prompt retry.
func TestMalformedOutputRetriesOnceThenSucceeds(t *testing.T) {
	f := &fakeChatter{responses: []string{
		`not json at all`,
		`{"intent":"comparison","entities":{"campaign_ids":[101,102]},"needs_data":true,"needs_document_search":false}`,
	}}
	a := NewAnalyzer(f, "phi3.5")

	got, usage := a.Analyze(context.Background(), "compare campaign 101 and 102", nil)

	if f.calls != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", f.calls)
	}
	if got.Intent != IntentComparison {
		t.Errorf("Intent = %q, want comparison", got.Intent)
	}
	if len(got.Entities.CampaignIDs) != 2 {
		t.Errorf("CampaignIDs = %v, want [101 102]", got.Entities.CampaignIDs)
	}
	// Usage must cover both calls.
	if usage.InputTokens != 20 || usage.OutputTokens != 10 {
		t.Errorf("usage = %+v, want 20/10", usage)
	}

	// The retry prompt must carry the strict reinforcement.
	second := f.prompts[1]
	if len(second) == 0 || second[0].Role != "system" {
		t.Fatal("retry prompt missing system message")
	}
	if !strings.Contains(second[0].Content, "STRICT MODE") {
		t.Error("retry system prompt does not include strict reinforcement")
	}
}

// TestMalformedOutputDegradesToAmbiguous verifies the fallback after two failures.
func TestMalformedOutputDegradesToAmbiguous(t *testing.T) {
	f := &fakeChatter{responses: []string{`garbage`, `still garbage`}}
	a := NewAnalyzer(f, "phi3.5")

	got, _ := a.Analyze(context.Background(), "anything", nil)

	if f.calls != 2 {
		t.Errorf("calls = %d, want 2", f.calls)
	}
	if got.Intent != IntentAmbiguous {
		t.Errorf("Intent = %q, want ambiguous", got.Intent)
	}
	if got.NeedsData || got.NeedsDocSearch {
		t.Error("degraded analysis must not request retrieval")
	}
}

// TestUnknownIntentTreatedAsMalformed: an out-of-set intent value triggers retry.
func TestUnknownIntentTreatedAsMalformed(t *testing.T) {
	f := &fakeChatter{responses: []string{
		`{"intent":"banter","entities":{},"needs_data":false,"needs_document_search":false}`,
		`{"intent":"general","entities":{},"needs_data":false,"needs_document_search":false}`,
	}}
	a := NewAnalyzer(f, "phi3.5")

	got, _ := a.Analyze(context.Background(), "hey", nil)
	if f.calls != 2 {
		t.Errorf("calls = %d, want 2", f.calls)
	}
	if got.Intent != IntentGeneral {
		t.Errorf("Intent = %q, want general after retry", got.Intent)
	}
}

// TestChatErrorDegrades: transport errors behave like malformed output.
func TestChatErrorDegrades(t *testing.T) {
	f := &fakeChatter{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	a := NewAnalyzer(f, "phi3.5")

	got, _ := a.Analyze(context.Background(), "top campaigns", nil)
	if got.Intent != IntentAmbiguous {
		t.Errorf("Intent = %q, want ambiguous", got.Intent)
	}
}

// TestEmptyQueryShortCircuits: no model call for empty input.
func TestEmptyQueryShortCircuits(t *testing.T) {
	f := &fakeChatter{}
	a := NewAnalyzer(f, "phi3.5")

	got, _ := a.Analyze(context.Background(), "", nil)
	if f.calls != 0 {
		t.Errorf("calls = %d, want 0", f.calls)
	}
	if got.Intent != IntentAmbiguous {
		t.Errorf("Intent = %q, want ambiguous", got.Intent)
	}
}

// TestAmbiguousNeverRequestsRetrieval: model-claimed ambiguous with flags set
// gets its flags cleared.
func TestAmbiguousNeverRequestsRetrieval(t *testing.T) {
	f := &fakeChatter{responses: []string{
		`{"intent":"ambiguous","entities":{},"needs_data":true,"needs_document_search":true}`,
	}}
	a := NewAnalyzer(f, "phi3.5")

	got, _ := a.Analyze(context.Background(), "hmm", nil)
	if got.NeedsData || got.NeedsDocSearch {
		t.Errorf("got %+v, ambiguous must clear retrieval flags", got)
	}
}
