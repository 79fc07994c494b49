package app

import (
	"strings"
	"time"
	"unicode"

	"docchat/internal/ai"
	"docchat/internal/model"
)

const systemInstruction = `You are a helpful assistant that answers questions about a document.
You can summarize, extract information and give insights based on the document content.
Base your answers on the provided document context and the conversation history.
Keep answers concise, accurate and directly relevant to the question.
If the information is not in the document or you are unsure, say that you don't have enough information.`

const contextHeader = "Here is relevant information from the document:"

const contextFooter = "Use this information to answer the user's question. Prefer it over anything else you know."

var timeWords = map[string]struct{}{
	"time":  {},
	"when":  {},
	"date":  {},
	"today": {},
	"now":   {},
}

// mentionsTime reports whether question contains one of timeWords as a
// whole word, case-insensitively.
func mentionsTime(question string) bool {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := timeWords[w]; ok {
			return true
		}
	}
	return false
}

func buildSystemPrompt(question string, chunks []model.RetrievedChunk, now time.Time) string {
	var b strings.Builder
	if mentionsTime(question) {
		b.WriteString("Current time: ")
		b.WriteString(now.Format("2006-01-02 15:04:05"))
		b.WriteString("\n")
	}
	b.WriteString(systemInstruction)
	if len(chunks) > 0 {
		b.WriteString("\n\n")
		b.WriteString(contextHeader)
		b.WriteString("\n")
		for i, c := range chunks {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(c.Text)
		}
		b.WriteString("\n\n")
		b.WriteString(contextFooter)
	}
	return b.String()
}

// historyWindow keeps at most maxTurns of the most recent turns, then drops
// the oldest until the total token count fits budget. budget <= 0 disables
// the token limit.
func historyWindow(turns []model.ChatTurn, maxTurns, budget int, tokenizer Tokenizer) []model.ChatTurn {
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	if budget <= 0 || tokenizer == nil {
		return turns
	}
	total := 0
	start := len(turns)
	for start > 0 {
		n := tokenizer.CountTokens(turns[start-1].Content)
		if total+n > budget {
			break
		}
		total += n
		start--
	}
	return turns[start:]
}

func buildMessages(systemPrompt string, window []model.ChatTurn, question string) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(window)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: systemPrompt})
	for _, t := range window {
		messages = append(messages, ai.ChatMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: model.RoleUser, Content: question})
	return messages
}
