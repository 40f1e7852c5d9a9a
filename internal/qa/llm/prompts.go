package llm

import (
	"fmt"
	"strings"
)

func buildSystemPrompt(topK int) string {
	return fmt.Sprintf(`You are an extractive question answering system.
You are given a question and a passage. Find at most %d short spans of the passage that answer the question.

Rules:
- Copy every answer EXACTLY as it appears in the passage, character for character. Do not paraphrase.
- Prefer the shortest span that fully answers the question.
- Give each answer a confidence between 0 and 1.
- If the passage does not contain the answer, return an empty list.

Respond with JSON only, in this shape:
{"answers": [{"answer": "<verbatim span>", "confidence": 0.0}]}`, topK)
}

func buildUserPrompt(question, passage string) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nPassage:\n")
	sb.WriteString(passage)
	return sb.String()
}
