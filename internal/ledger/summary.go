package ledger

import "strings"

// Per-turn content cap before topic extraction.
const turnContentMax = 200

// summarizeRecent compresses a window of turns into one context fragment.
// Each turn is reduced to a role-tagged topic line; the compression level
// controls how many of the most recent lines survive (1 keeps 4, 2 keeps
// 2, 3 keeps only the last).
func summarizeRecent(turns []Turn, compressionLevel int) string {
	if len(turns) == 0 {
		return ""
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		content := turn.Content
		if len(content) > turnContentMax {
			content = content[:turnContentMax]
		}
		if turn.Role == RoleUser {
			lines = append(lines, "User asked about: "+extractTopic(content))
		} else {
			lines = append(lines, "AI discussed: "+extractTopic(content))
		}
	}

	keep := 1
	switch compressionLevel {
	case 1:
		keep = 4
	case 2:
		keep = 2
	}
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, " | ")
}

func splitLowerWords(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// extractTopic pulls a short topic line from free text: the first sentence
// if one ends early enough, otherwise a 50-char prefix.
func extractTopic(text string) string {
	text = strings.TrimSpace(text)
	head := text
	if len(head) > 100 {
		head = head[:100]
	}
	if i := strings.Index(head, "."); i >= 0 {
		return text[:i+1]
	}
	if len(text) > 50 {
		return text[:50] + "..."
	}
	return text
}
