// Package generate turns a query plus its retrieved data bundle into the
// assistant response. Response type selection is a fixed policy evaluated
// over the analysis and bundle, never a model decision, so the same inputs
// always yield the same response type.
package generate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kalambet/campa/internal/charts"
	"github.com/kalambet/campa/internal/intent"
	"github.com/kalambet/campa/internal/llm"
	"github.com/kalambet/campa/internal/retrieval"
	"github.com/kalambet/campa/internal/storage"
)

const (
	defaultTimeout = 30 * time.Second
	maxTableRows   = 20
)

// fallbackMessage is returned in error-type responses when generation fails.
const fallbackMessage = "I ran into a problem answering that. Please try again."

// noDataMessage answers data questions for which no source produced anything.
const noDataMessage = "I couldn't find relevant campaign information for your question. Try naming a campaign, a topic, or a metric like conversion rate."

// Chatter is the interface for chat completion against the model endpoint.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, llm.Usage, error)
}

// Table is the structured payload of a table response.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Caption string   `json:"caption,omitempty"`
}

// Response is one generated answer. For table and chart responses Content
// holds the JSON-serialized payload; ResponseType tells the caller how to
// decode it.
type Response struct {
	Content      string
	ResponseType string
	Attributions []storage.Attribution
}

// Generator produces responses with the answer model. It never returns an
// error: any failure becomes an error-type response so the conversation can
// continue.
type Generator struct {
	client  Chatter
	model   string
	timeout time.Duration
}

// NewGenerator creates a Generator using the given chat client and model
// name. timeout bounds each model call; pass 0 for the default.
func NewGenerator(client Chatter, model string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Generator{client: client, model: model, timeout: timeout}
}

// Generate produces the response for one query. The response type is decided
// before any model call: a chart when the query explicitly asks for one and
// numeric rows are available, a table for performance and comparison answers
// backed by rows, text otherwise. The returned usage covers all model calls
// made.
func (g *Generator) Generate(ctx context.Context, query string, a intent.Analysis, b retrieval.Bundle, recentTurns []llm.Message) (Response, llm.Usage) {
	attrs := attributions(b)

	if wantsChart(query) && len(b.Rows) > 0 {
		if resp, ok := chartResponse(query, b, attrs); ok {
			return resp, llm.Usage{}
		}
	}

	if len(b.Rows) > 0 && (a.Intent == intent.IntentPerformance || a.Intent == intent.IntentComparison) {
		return tableResponse(a, b, attrs), llm.Usage{}
	}

	if (a.NeedsData || a.NeedsDocSearch) && b.Empty() {
		return Response{
			Content:      noDataMessage,
			ResponseType: storage.ResponseText,
			Attributions: attrs,
		}, llm.Usage{}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, usage, err := g.client.Chat(ctx, g.model, BuildPrompt(query, a, b, recentTurns), nil)
	if err != nil || strings.TrimSpace(content) == "" {
		return Response{
			Content:      fallbackMessage,
			ResponseType: storage.ResponseError,
		}, usage
	}
	return Response{
		Content:      strings.TrimSpace(content),
		ResponseType: storage.ResponseText,
		Attributions: attrs,
	}, usage
}

// attributions maps bundle sources to persisted attributions. Degraded
// sources are kept with an "unavailable" reference so answers built on
// partial data still disclose every source consulted.
func attributions(b retrieval.Bundle) []storage.Attribution {
	attrs := make([]storage.Attribution, 0, len(b.Sources))
	for _, s := range b.Sources {
		ref := s.Ref
		if s.Degraded {
			ref = "unavailable"
		}
		attrs = append(attrs, storage.Attribution{
			SourceKind: s.Kind,
			SourceRef:  ref,
			Score:      s.Score,
		})
	}
	return attrs
}

// wantsChart reports whether the query explicitly asks for a visual answer.
func wantsChart(query string) bool {
	q := strings.ToLower(query)
	for _, w := range []string{"chart", "graph", "plot", "visuali"} {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// chartResponse builds a chart payload from the bundle rows. The chart kind
// is inferred from the query wording, defaulting to conversion rates.
func chartResponse(query string, b retrieval.Bundle, attrs []storage.Attribution) (Response, bool) {
	spec, err := charts.Build(chartKind(query), b.Rows)
	if err != nil {
		return Response{}, false
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return Response{}, false
	}
	return Response{
		Content:      string(payload),
		ResponseType: storage.ResponseChart,
		Attributions: attrs,
	}, true
}

func chartKind(query string) charts.Kind {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "trend") || strings.Contains(q, "over time"):
		return charts.Trends
	case strings.Contains(q, "segment"):
		return charts.SegmentPerformance
	case strings.Contains(q, "audience") || strings.Contains(q, "topic"):
		return charts.AudienceByTopic
	default:
		return charts.ConversionRate
	}
}

// tableResponse serializes bundle rows into a fixed-column table payload.
func tableResponse(a intent.Analysis, b retrieval.Bundle, attrs []storage.Attribution) Response {
	rows := b.Rows
	if len(rows) > maxTableRows {
		rows = rows[:maxTableRows]
	}
	t := Table{
		Columns: []string{"campaign_id", "campaign_topic", "customer_segment", "open_rate", "click_rate", "conversion_rate"},
		Caption: tableCaption(a),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{r.CampaignID, r.CampaignTopic, r.CustomerSegment, r.OpenRate, r.ClickRate, r.ConversionRate})
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return Response{Content: fallbackMessage, ResponseType: storage.ResponseError}
	}
	return Response{
		Content:      string(payload),
		ResponseType: storage.ResponseTable,
		Attributions: attrs,
	}
}

func tableCaption(a intent.Analysis) string {
	if a.Intent == intent.IntentComparison {
		return "Campaign comparison"
	}
	return "Campaign performance"
}
