// Package prompt renders the extraction and question prompts sent to the
// completion service. Rendering is pure and deterministic, and output size
// is bounded regardless of transcript, recipe, or history length.
package prompt

import (
	"fmt"
	"strings"

	"codeberg.org/recipechat/server/internal/conversation"
)

const (
	// bounds that keep the rendered prompt from growing with the conversation
	maxTranscriptLength = 8000
	maxRecipeLength     = 2000
	maxTurnLength       = 300
	maxHistoryTurns     = conversation.MaxTurns

	truncationMarker = " [truncated]"
)

const extractionTemplate = `You are a professional chef assistant. Extract and format the following details from the provided recipe transcript. Your output must strictly adhere to the specified structure below. Do not include any additional text, headings, or commentary. Begin the output directly with the recipe title:

**Title**: The concise name of the recipe.
**Ingredients**:
- List all ingredients with their quantities, each preceded by a bullet point.
**Procedure**:
- Step-by-step cooking instructions, each preceded by a bullet point.

%s`

const questionTemplate = `You are a professional culinary expert with mastery of various cuisines and cooking techniques. Respond to user queries with precise, expert-level information. Avoid offering assistance, asking for clarification, or repeating the question. Provide only the specific answer or instructions required.

Recipe Context:
%s

Your Mission:
Deliver professional, authoritative answers with expert-level accuracy. Focus solely on the information requested, avoiding unnecessary commentary or offers of help.

User's Question: %s

Key Approach:
Understand the question thoroughly.
Respond with clarity, precision, and professionalism.
Provide actionable, expert-level advice with clear instructions.
Use an engaging, authoritative tone that conveys expertise.
Include relevant culinary techniques, ingredient substitutions, or time-saving tips when appropriate.
Maintain a respectful, supportive, and encouraging tone.`

// renders the recipe extraction prompt for a cleaned transcript
func BuildExtraction(transcript string) string {
	return fmt.Sprintf(extractionTemplate, truncate(transcript, maxTranscriptLength))
}

// renders the question-answering prompt from recipe text, bounded history,
// and the new question
func BuildQuestion(recipeText string, history []conversation.Message, question string) string {
	composed := composeQuestion(history, question)

	return fmt.Sprintf(questionTemplate, truncate(recipeText, maxRecipeLength), composed)
}

// renders the bounded history block followed by the current question
func composeQuestion(history []conversation.Message, question string) string {
	var builder strings.Builder

	if len(history) > 0 {
		builder.WriteString("Conversation History:\n")

		// at most the last maxHistoryTurns pairs
		start := len(history) - 2*maxHistoryTurns
		if start < 0 {
			start = 0
		}

		for _, msg := range history[start:] {
			role := "Assistant"
			if msg.Role == conversation.RoleUser {
				role = "User"
			}

			builder.WriteString(role)
			builder.WriteString(": ")
			builder.WriteString(truncate(msg.Content, maxTurnLength))
			builder.WriteString("\n")
		}

		builder.WriteString("\n")
	}

	builder.WriteString("Current Question: ")
	builder.WriteString(question)

	return builder.String()
}

// cuts s to at most limit characters, marking the cut
func truncate(s string, limit int) string {
	runes := []rune(s)

	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit]) + truncationMarker
}
