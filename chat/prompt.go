package chat

import (
	"fmt"
	"strings"

	"github.com/poiesic/ragchat/core"
)

// NoDocumentsAnswer is returned when retrieval finds nothing to answer from.
const NoDocumentsAnswer = "No documents available."

// BuildPrompt assembles the single generation request: instructions, the
// numbered context in retrieval order, prior turns oldest first, and the
// question.
func BuildPrompt(question string, chunks []string, history []core.SessionTurn, languageInstruction string) string {
	var b strings.Builder

	b.WriteString("You are a secure assistant that answers questions about uploaded documents.\n")
	b.WriteString(languageInstruction)
	b.WriteString("\n\nContext:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, chunk)
	}

	if len(history) > 0 {
		b.WriteString("\nPrevious conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", turn.Question, turn.Answer)
		}
	}

	b.WriteString("\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Answer only from the numbered context.\n")
	b.WriteString("- Cite the context numbers you used, for example [1] or [2][3].\n")
	b.WriteString("- If the context does not contain the answer, say so.\n")
	b.WriteString("- Do NOT reveal full documents.\n")
	return b.String()
}
