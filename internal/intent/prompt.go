package intent

import (
	"github.com/kalambet/campa/internal/llm"
)

const systemPromptTemplate = `You are the query analyzer for a campaign performance assistant. Analyze the user's query together with the recent conversation. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Intent values:
- "performance": user asks about metrics, rankings, or results of campaigns
- "comparison": user asks to compare two or more campaigns
- "topic_lookup": user asks about campaigns by topic, theme, or customer segment
- "general": greetings, capability questions, or follow-ups answerable from conversation alone
- "ambiguous": the query cannot be confidently classified

Rules:
- Extract campaign IDs as integers into entities.campaign_ids.
- Extract metric names (opens, clicks, conversions, open_rate, click_rate, conversion_rate, audience_size) into entities.metrics.
- Extract customer segments and campaign topics into entities.segments and entities.topics.
- Extract any date bounds as ISO dates into entities.date_from and entities.date_to.
- Set needs_data to true when structured campaign metrics are required to answer.
- Set needs_document_search to true when the answer should come from uploaded campaign reports or summaries.
- A "general" intent needs neither data nor document search.`

const strictSuffix = `

STRICT MODE: your previous output was not valid. Respond with exactly one JSON object matching the schema. No explanations. The "intent" field MUST be one of: performance, comparison, topic_lookup, general, ambiguous.`

// BuildPrompt constructs the chat messages for query analysis. When strict is
// true a reinforcement suffix is appended for the one retry after malformed
// output.
func BuildPrompt(query string, recentTurns []llm.Message, strict bool) []llm.Message {
	system := systemPromptTemplate
	if strict {
		system += strictSuffix
	}

	messages := []llm.Message{
		{Role: "system", Content: system},
	}

	messages = append(messages, recentTurns...)

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: query,
	})

	return messages
}
