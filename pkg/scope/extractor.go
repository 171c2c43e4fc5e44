// Package scope turns a raw user message into either a clarifying
// question or a validated project scope. Provider failures never
// surface: the extractor always produces something the planner can use.
package scope

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/swarmhq/swarmd/pkg/catalog"
	"github.com/swarmhq/swarmd/pkg/completer"
	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/swarm"
)

const (
	// vagueTokenThreshold is the minimum token count for a message to
	// be treated as an actionable request.
	vagueTokenThreshold = 5

	fallbackClarification = "Could you tell me more about the project you have in mind? " +
		"What should it do, and who is it for?"
)

var greetingPhrases = []string{
	"hi", "hey", "hello", "yo", "sup", "hiya", "howdy",
	"help", "help me", "can you help", "can you help me",
	"what can you do", "test", "ping",
}

// Result is the outcome of extraction: exactly one of Clarification or
// Scope is set.
type Result struct {
	Clarification string
	Scope         *swarm.Scope
}

// NeedsClarification reports whether the user must be asked a question
// before planning can start.
func (r Result) NeedsClarification() bool {
	return r.Clarification != ""
}

// Extractor drives the completer to produce a structured scope.
type Extractor struct {
	completer completer.Completer
	catalog   catalog.Catalog
}

func NewExtractor(c completer.Completer, cat catalog.Catalog) *Extractor {
	return &Extractor{completer: c, catalog: cat}
}

// Extract parses the user message. history carries prior conversation
// turns for context, newest last.
func (e *Extractor) Extract(ctx context.Context, message string, history []string) Result {
	if isVague(message) {
		return Result{Clarification: e.clarify(ctx, message)}
	}

	prompt := buildExtractionPrompt(message, history, e.catalogSummary())
	raw, err := e.completer.Complete(ctx, prompt, completer.Options{
		Deterministic: true,
		MaxTokens:     2048,
	})
	if err != nil {
		logger.WarnCF("scope", "Extraction completion failed, using fallback scope", map[string]any{
			"error": err.Error(),
		})
		return Result{Scope: FallbackScope(message)}
	}

	s, err := ParseScope(raw)
	if err != nil {
		logger.WarnCF("scope", "Scope payload unparseable, using fallback scope", map[string]any{
			"error": err.Error(),
		})
		return Result{Scope: FallbackScope(message)}
	}
	return Result{Scope: s}
}

// clarify asks the completer to word an open-ended question. Any
// failure falls back to a canned question; clarification is best-effort.
func (e *Extractor) clarify(ctx context.Context, message string) string {
	text, err := e.completer.Complete(ctx, buildClarifyPrompt(message), completer.Options{
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		return fallbackClarification
	}
	return strings.TrimSpace(text)
}

func (e *Extractor) catalogSummary() string {
	if e.catalog == nil {
		return ""
	}
	return e.catalog.Summary()
}

// isVague applies the vagueness heuristic: fewer than five tokens, or
// nothing beyond greeting/"help me" phrases.
func isVague(message string) bool {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return true
	}

	tokens := strings.Fields(trimmed)
	if len(tokens) < vagueTokenThreshold {
		return true
	}

	normalized := strings.ToLower(strings.TrimRight(trimmed, ".!?"))
	for _, phrase := range greetingPhrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

// FallbackScope is the deterministic scope used whenever extraction
// cannot produce a valid one. The raw message becomes the goal.
func FallbackScope(message string) *swarm.Scope {
	return &swarm.Scope{
		Project: "UserProject",
		Goal:    message,
		TechStack: map[string]string{
			"frontend": "Next.js",
			"backend":  "Node.js",
			"database": "PostgreSQL",
		},
		Features: []string{"core functionality"},
		Timeline: "1-2h",
		Outcome:  "MVP",
		ScopeOfWorks: swarm.ScopeOfWorks{
			InScope:    []string{},
			OutScope:   []string{},
			Milestones: []string{},
			Risks:      []string{},
			KPIs:       []string{},
		},
	}
}

// ParseScope decodes the completer's structured output. It tolerates
// code fences and leading/trailing prose around the JSON block.
func ParseScope(raw string) (*swarm.Scope, error) {
	block, err := extractJSONBlock(raw)
	if err != nil {
		return nil, err
	}

	var s swarm.Scope
	if err := json.Unmarshal([]byte(block), &s); err != nil {
		return nil, err
	}
	if s.Features == nil {
		s.Features = []string{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
