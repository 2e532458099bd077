package inject

import "strings"

// contextTemplates wrap the formatted context in whatever shape each chat
// platform tolerates best. {context} is replaced with the context text.
var contextTemplates = map[string]string{
	"ChatGPT":    "\n\n---\n[System: User has prior conversation context -\n{context}]",
	"Claude":     "\n\n<prior_context>\n{context}\n</prior_context>",
	"Perplexity": "\n\n[Prior context: {context}]",
	"Gemini":     "\n\n[User's conversation history: {context}]",
}

const defaultTemplate = "\n\n[Context: {context}]"

// renderTemplate wraps context text for the target platform, falling back
// to the default wrapper for unrecognized platforms.
func renderTemplate(platform, contextText string) string {
	tpl, ok := contextTemplates[platform]
	if !ok {
		tpl = defaultTemplate
	}
	return strings.ReplaceAll(tpl, "{context}", contextText)
}
