package usecase

import (
	"strings"

	"chat-relay/internal/domain"
)

// Tones the reply engine understands. Unknown values fall back to TonePolite.
const (
	TonePolite = "polite"
	ToneCasual = "casual"
	ToneSales  = "sales"
	ToneGentle = "gentle"
)

var toneDirectives = map[string]string{
	TonePolite: "Write in a courteous, professional register.",
	ToneCasual: "Write in a relaxed, friendly register.",
	ToneSales:  "Write in an upbeat, persuasive register suited to a sales conversation.",
	ToneGentle: "Write in a soft, reassuring register.",
}

func toneDirective(tone string) string {
	if d, ok := toneDirectives[strings.ToLower(strings.TrimSpace(tone))]; ok {
		return d
	}
	return toneDirectives[TonePolite]
}

func buildSystemDirective(tone string) string {
	return strings.Join([]string{
		"Role:",
		"You are the reply engine of a customer-facing chat bot.",
		"Classify the user's message and write the reply they should receive.",
		"",
		"Style:",
		toneDirective(tone),
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func outputContract() string {
	return "Return JSON only with exactly these keys: reply_text (string), " +
		"summary (string), category (number), urgency_score (number). " +
		"Do not add other keys or any text outside the JSON object."
}

// buildUserInput prefixes the raw text with a transcript of the recent turns
// when there are any; otherwise the raw text goes through unchanged.
func buildUserInput(text string, history []domain.ConversationTurn) string {
	transcript := renderTranscript(history)
	if transcript == "" {
		return text
	}
	return "Recent conversation:\n" + transcript + "\n\nCurrent message:\n" + text
}

// renderTranscript renders turns as role-labeled lines with runs of
// whitespace collapsed, oldest first.
func renderTranscript(history []domain.ConversationTurn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		content := strings.Join(strings.Fields(t.Content), " ")
		if content == "" {
			continue
		}
		lines = append(lines, t.Role+": "+content)
	}
	return strings.Join(lines, "\n")
}
