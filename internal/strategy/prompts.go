package strategy

import "strings"

const (
	promptHeader = "You are an AI assistant answering questions about a group conversation."

	// ChunkSeparator joins retrieved excerpts.
	ChunkSeparator = "\n\n--- CHUNK ---\n"
)

// FullContextPrompt embeds a conversation history in the instruction template.
func FullContextPrompt(history string) string {
	return buildPrompt("FULL CONVERSATION HISTORY:", history, "the conversation above", "in the conversation")
}

// RetrievalPrompt embeds retrieved excerpts in the instruction template.
func RetrievalPrompt(excerpts string) string {
	return buildPrompt("RELEVANT CONVERSATION EXCERPTS:", excerpts, "the conversation excerpts above", "in the provided excerpts")
}

func buildPrompt(heading, body, source, where string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\n")
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("- Answer the question based ONLY on " + source + "\n")
	b.WriteString("- Be specific about who said what\n")
	b.WriteString("- If you cannot find the answer " + where + ", say so clearly\n")
	b.WriteString("- Provide direct quotes when possible")
	return b.String()
}
