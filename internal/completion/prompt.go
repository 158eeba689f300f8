package completion

import (
	"fmt"
	"strings"
	"time"

	"llmchat/backend/internal/brave"
	"llmchat/backend/internal/openrouter"
)

const (
	maxHistoryMessages = 20
	defaultSystemPrompt = "You are a helpful, precise assistant. Answer in Markdown. Be concise unless the user asks for depth."
)

func buildSystemPrompt(base string, now time.Time, geo Geo, customInstructions string, sources []brave.Result) string {
	var b strings.Builder
	if strings.TrimSpace(base) == "" {
		base = defaultSystemPrompt
	}
	b.WriteString(strings.TrimSpace(base))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("- Current UTC date: %s.\n", now.UTC().Format("2006-01-02")))
	if location := geo.Label(); location != "" {
		b.WriteString(fmt.Sprintf("- The user appears to be in %s. Use this only when location matters.\n", location))
	}

	if custom := strings.TrimSpace(customInstructions); custom != "" {
		b.WriteString("\nUser instructions (follow unless they conflict with safety):\n")
		b.WriteString(custom)
		b.WriteString("\n")
	}

	if len(sources) > 0 {
		b.WriteString("\nWeb sources. Cite them inline as [n] using these numbers and do not invent citations:\n")
		for i, src := range sources {
			b.WriteString(fmt.Sprintf("[%d] %s | %s\n", i+1, src.Title, src.URL))
			if snippet := strings.TrimSpace(src.Snippet); snippet != "" {
				b.WriteString("    ")
				b.WriteString(snippet)
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// buildMessages assembles the upstream conversation: system prompt, the
// most recent history turns, then the new prompt.
func buildMessages(system string, history []Message, prompt string) []openrouter.Message {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}

	out := make([]openrouter.Message, 0, len(history)+2)
	out = append(out, openrouter.Message{Role: "system", Content: system})
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		out = append(out, openrouter.Message{Role: msg.Role, Content: content})
	}
	out = append(out, openrouter.Message{Role: "user", Content: strings.TrimSpace(prompt)})
	return out
}

func searchQuery(prompt string, geo Geo) string {
	query := strings.Join(strings.Fields(prompt), " ")
	if geo.City != "" && strings.Contains(strings.ToLower(query), "near me") {
		query = strings.ReplaceAll(query, "near me", "in "+geo.City)
	}
	return query
}
