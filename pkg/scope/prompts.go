package scope

import (
	"fmt"
	"strings"
)

const extractionTemplate = `You are a project scoping assistant. Extract a structured project scope from the user's request.

Respond with ONLY a JSON object in exactly this shape:
{
  "project": "<short project name>",
  "goal": "<one-sentence goal>",
  "tech_stack": {"frontend": "...", "backend": "...", "database": "..."},
  "features": ["...", "..."],
  "timeline": "<estimate such as 1-2h or 2w>",
  "outcome": "<expected deliverable, e.g. MVP>",
  "scope_of_works": {
    "in_scope": ["..."],
    "out_scope": ["..."],
    "milestones": ["..."],
    "risks": ["..."],
    "kpis": ["..."]
  }
}

Do not invent requirements the user did not state. Leave lists empty when the request gives no information.`

const clarifyTemplate = `The user sent a message too vague to plan a software project from. Ask one short, friendly, open-ended question that draws out what they want to build. Reply with the question only.

User message: %q`

func buildExtractionPrompt(message string, history []string, catalogSummary string) string {
	var b strings.Builder
	b.WriteString(extractionTemplate)

	if catalogSummary != "" {
		b.WriteString("\n\n")
		b.WriteString(catalogSummary)
		b.WriteString("\nPrefer these components when proposing frontend features.")
	}

	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, turn := range history {
			b.WriteString("- ")
			b.WriteString(turn)
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\n\nUser request: %s", message)
	return b.String()
}

func buildClarifyPrompt(message string) string {
	return fmt.Sprintf(clarifyTemplate, message)
}
