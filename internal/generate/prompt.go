package generate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/campa/internal/intent"
	"github.com/kalambet/campa/internal/llm"
	"github.com/kalambet/campa/internal/retrieval"
)

const systemPrompt = `You are a marketing analytics assistant for an email campaign team.
Answer questions using ONLY the campaign data and document excerpts provided below.
If the provided data does not cover the question, say so instead of guessing.
Never invent campaign IDs, metrics, or numbers. Quote rates as percentages with one decimal.
Keep answers concise and concrete.`

// maxSnippetChars bounds each document excerpt placed in the prompt.
const maxSnippetChars = 800

// BuildPrompt assembles the chat messages for answer generation: the system
// priming, the rendered data bundle, the recent conversation, and the query.
func BuildPrompt(query string, a intent.Analysis, b retrieval.Bundle, recentTurns []llm.Message) []llm.Message {
	var sb strings.Builder
	sb.WriteString(systemPrompt)

	if ctx := renderBundle(b); ctx != "" {
		sb.WriteString("\n\n")
		sb.WriteString(ctx)
	}
	if a.Intent == intent.IntentAmbiguous {
		sb.WriteString("\n\nThe question was unclear. Ask the user to rephrase, suggesting they name a campaign, topic, segment, or metric.")
	}

	messages := []llm.Message{{Role: "system", Content: sb.String()}}
	messages = append(messages, recentTurns...)
	messages = append(messages, llm.Message{Role: "user", Content: query})
	return messages
}

// renderBundle flattens the retrieved data into prompt text. Degraded
// sources become explicit warnings so the model can disclose gaps.
func renderBundle(b retrieval.Bundle) string {
	var sections []string

	if len(b.Rows) > 0 {
		var sb strings.Builder
		sb.WriteString("[Campaign Data]\n")
		// Rates are stored as percentages; render them as-is.
		for _, r := range b.Rows {
			fmt.Fprintf(&sb, "- campaign %d (%s, %s, %s): sent %d, open rate %.1f%%, click rate %.1f%%, conversion rate %.1f%%\n",
				r.CampaignID, r.CampaignTopic, r.CustomerSegment, r.CampaignDate,
				r.Sent, r.OpenRate, r.ClickRate, r.ConversionRate)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if b.Summary != nil {
		s := b.Summary
		sections = append(sections, fmt.Sprintf(
			"[Overall Stats]\ncampaigns: %d, avg open rate %.1f%%, avg click rate %.1f%%, avg conversion rate %.1f%%, total conversions %d",
			s.TotalCampaigns, s.AverageOpenRate, s.AverageClickRate, s.AverageConversionRate, s.TotalConversions))
	}

	if len(b.Snippets) > 0 {
		var sb strings.Builder
		sb.WriteString("[Document Context]\n")
		for _, sn := range b.Snippets {
			fmt.Fprintf(&sb, "- (%s) %s\n", sn.SourceRef, truncate(sn.Text, maxSnippetChars))
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	var warnings []string
	for _, s := range b.Sources {
		if s.Degraded {
			warnings = append(warnings, fmt.Sprintf("- the %s source was unavailable for this question", s.Kind))
		}
	}
	if len(warnings) > 0 {
		sections = append(sections, "[Data Warnings]\n"+strings.Join(warnings, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
