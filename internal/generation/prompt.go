package generation

import (
	"errors"
	"strings"
	"text/template"

	"github.com/Yates-Labs/f1rag/internal/rag"
)

var ErrEmptyQuestion = errors.New("question cannot be empty")

// The prompt the trivia model was tuned against; chunk texts appear in ranked order.
var promptTemplate = template.Must(template.New("prompt").Parse(`Answer the question based on the provided context.
Context:
{{range .Documents}}{{.Text}}
{{end}}Question: {{.Question}}
`))

type promptData struct {
	Question  string
	Documents []rag.ContextChunk
}

// AssemblePrompt renders the question and retrieved chunks into a prompt.
// Chunks are used in the order given.
func AssemblePrompt(question string, chunks []rag.ContextChunk) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	docs := make([]rag.ContextChunk, 0, len(chunks))
	for _, ch := range chunks {
		ch.Text = strings.TrimSpace(ch.Text)
		if ch.Text != "" {
			docs = append(docs, ch)
		}
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, promptData{Question: question, Documents: docs}); err != nil {
		return "", err
	}
	return b.String(), nil
}
