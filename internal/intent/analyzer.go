package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kalambet/campa/internal/llm"
)

const analysisTimeout = 5 * time.Second

// Intent classification values. The set is closed: anything else coming back
// from the model is treated as malformed output.
const (
	IntentPerformance = "performance"
	IntentComparison  = "comparison"
	IntentTopicLookup = "topic_lookup"
	IntentGeneral     = "general"
	IntentAmbiguous   = "ambiguous"
)

// Chatter is the interface for chat completion against the model endpoint.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, llm.Usage, error)
}

// Entities holds what the analyzer extracted from the query. All fields are
// optional; empty slices mean nothing was found.
type Entities struct {
	CampaignIDs []int    `json:"campaign_ids"`
	DateFrom    string   `json:"date_from"`
	DateTo      string   `json:"date_to"`
	Metrics     []string `json:"metrics"`
	Segments    []string `json:"segments"`
	Topics      []string `json:"topics"`
}

// Analysis is the structured classification of one incoming query.
// It is transient: produced per query and never persisted.
type Analysis struct {
	Intent         string   `json:"intent"`
	Entities       Entities `json:"entities"`
	NeedsData      bool     `json:"needs_data"`
	NeedsDocSearch bool     `json:"needs_document_search"`
}

// Ambiguous is the degraded fallback analysis used when classification fails.
func Ambiguous() Analysis {
	return Analysis{Intent: IntentAmbiguous}
}

// Analyzer classifies queries with a fast model. It never returns an error
// for valid input: classification failure degrades to an ambiguous analysis.
type Analyzer struct {
	client Chatter
	model  string
}

// NewAnalyzer creates an Analyzer using the given chat client and model name.
func NewAnalyzer(client Chatter, model string) *Analyzer {
	return &Analyzer{client: client, model: model}
}

// Analyze classifies the query against the closed intent set, extracting
// campaign entities from the query plus recent conversation context. On
// malformed model output it retries once with a stricter prompt, then falls
// back to an ambiguous, no-data analysis. The returned usage covers all
// model calls made.
func (a *Analyzer) Analyze(ctx context.Context, query string, recentTurns []llm.Message) (Analysis, llm.Usage) {
	if query == "" {
		return Ambiguous(), llm.Usage{}
	}

	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	var total llm.Usage

	result, usage, err := a.tryOnce(ctx, BuildPrompt(query, recentTurns, false))
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens
	if err == nil {
		return result, total
	}
	slog.Warn("query analysis failed, retrying with strict prompt", "error", err)

	result, usage, err = a.tryOnce(ctx, BuildPrompt(query, recentTurns, true))
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens
	if err == nil {
		return result, total
	}
	slog.Warn("query analysis retry failed, degrading to ambiguous", "error", err)

	return Ambiguous(), total
}

func (a *Analyzer) tryOnce(ctx context.Context, messages []llm.Message) (Analysis, llm.Usage, error) {
	raw, usage, err := a.client.Chat(ctx, a.model, messages, analysisSchema())
	if err != nil {
		return Analysis{}, usage, err
	}

	var result Analysis
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Analysis{}, usage, err
	}
	if err := validate(&result); err != nil {
		return Analysis{}, usage, err
	}
	return result, usage, nil
}

// validate enforces the closed intent schema and normalizes derived flags.
func validate(a *Analysis) error {
	switch a.Intent {
	case IntentPerformance, IntentComparison, IntentTopicLookup, IntentGeneral, IntentAmbiguous:
	default:
		return &schemaError{field: "intent", value: a.Intent}
	}
	// An ambiguous classification never triggers retrieval.
	if a.Intent == IntentAmbiguous {
		a.NeedsData = false
		a.NeedsDocSearch = false
	}
	return nil
}

type schemaError struct {
	field string
	value string
}

func (e *schemaError) Error() string {
	return "analysis schema violation: " + e.field + "=" + e.value
}

// analysisSchema returns the JSON schema constraining analyzer output.
func analysisSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"intent":                {Type: "string", Description: "One of: performance, comparison, topic_lookup, general, ambiguous"},
			"entities":              {Type: "object", Description: "Extracted campaign_ids, date_from, date_to, metrics, segments, topics"},
			"needs_data":            {Type: "boolean", Description: "Whether structured campaign data is required to answer"},
			"needs_document_search": {Type: "boolean", Description: "Whether uploaded campaign documents should be searched"},
		},
		Required: []string{"intent", "needs_data", "needs_document_search"},
	}
}
