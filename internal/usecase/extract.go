package usecase

import (
	"encoding/json"
	"regexp"
	"strings"

	"chat-relay/internal/domain"
)

// ExtractionResult carries the parsed structured reply, the best-effort reply
// text, and flags for which extraction tier succeeded. ParsedOK means a full
// JSON object was recovered; ExtractedOK means at least a reply text was.
type ExtractionResult struct {
	Reply       *domain.StructuredReply
	Text        string
	ParsedOK    bool
	ExtractedOK bool
}

// replyTextPattern matches the reply_text string value inside otherwise
// broken JSON. Backslash escapes are kept so the value boundary is correct.
var replyTextPattern = regexp.MustCompile(`"reply_text"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// rawResponseText probes the known payload locations in priority order and
// returns the first non-empty one: the flattened convenience field, then the
// structured content array, then the generic text field.
func rawResponseText(res *domain.CompletionResult) string {
	if res == nil {
		return ""
	}
	if strings.TrimSpace(res.OutputText) != "" {
		return res.OutputText
	}
	for _, item := range res.Outputs {
		for _, c := range item.Content {
			if strings.TrimSpace(c.Text) != "" {
				return c.Text
			}
		}
	}
	if strings.TrimSpace(res.Text) != "" {
		return res.Text
	}
	return ""
}

// extractReply turns a raw provider response into a usable reply. Each tier
// runs only when the previous one failed: strict parse, then the substring
// between the outermost braces, then regex recovery of reply_text alone.
// It never fails; a total miss returns a zero ExtractionResult and the caller
// supplies its fallback text.
func extractReply(res *domain.CompletionResult) ExtractionResult {
	raw := rawResponseText(res)
	if strings.TrimSpace(raw) == "" {
		return ExtractionResult{}
	}

	if reply, ok := parseStructured(raw); ok {
		return ExtractionResult{Reply: reply, Text: reply.ReplyText, ParsedOK: true, ExtractedOK: true}
	}

	// Leading or trailing prose around the object is common when the provider
	// ignores the schema constraint.
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		if reply, ok := parseStructured(raw[start : end+1]); ok {
			return ExtractionResult{Reply: reply, Text: reply.ReplyText, ParsedOK: true, ExtractedOK: true}
		}
	}

	if m := replyTextPattern.FindStringSubmatch(raw); m != nil {
		if text := minimalUnescape(m[1]); strings.TrimSpace(text) != "" {
			return ExtractionResult{Text: text, ExtractedOK: true}
		}
	}

	return ExtractionResult{}
}

func parseStructured(s string) (*domain.StructuredReply, bool) {
	var reply domain.StructuredReply
	if err := json.Unmarshal([]byte(s), &reply); err != nil {
		return nil, false
	}
	// A decodable object with none of our text fields is not a usable answer.
	if strings.TrimSpace(reply.ReplyText) == "" && strings.TrimSpace(reply.Summary) == "" {
		return nil, false
	}
	return &reply, true
}

// minimalUnescape undoes only the escapes the regex tier can see inside a
// JSON string value. Not a full JSON-string unescape.
func minimalUnescape(s string) string {
	return strings.NewReplacer(`\"`, `"`, `\n`, "\n", `\r`, "\r").Replace(s)
}
