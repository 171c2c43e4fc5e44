package scope

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/swarmd/pkg/completer"
)

// scripted returns canned completions in order.
type scripted struct {
	responses []string
	err       error
	prompts   []string
}

func (s *scripted) Complete(_ context.Context, prompt string, _ completer.Options) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func TestIsVague(t *testing.T) {
	tests := []struct {
		message string
		vague   bool
	}{
		{"hey", true},
		{"help me", true},
		{"", true},
		{"build an app", true}, // under five tokens
		{"Build an e-commerce store with Stripe payments", false},
		{"hello!", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.vague, isVague(tt.message), "message %q", tt.message)
	}
}

func TestExtractClarificationPath(t *testing.T) {
	c := &scripted{responses: []string{"What would you like to build?"}}
	e := NewExtractor(c, nil)

	res := e.Extract(context.Background(), "hey", nil)
	assert.True(t, res.NeedsClarification())
	assert.Equal(t, "What would you like to build?", res.Clarification)
	assert.Nil(t, res.Scope)
}

func TestExtractClarificationFallsBackWhenCompleterFails(t *testing.T) {
	c := &scripted{err: fmt.Errorf("provider down")}
	e := NewExtractor(c, nil)

	res := e.Extract(context.Background(), "hi", nil)
	assert.True(t, res.NeedsClarification())
	assert.NotEmpty(t, res.Clarification)
}

func TestExtractHappyPath(t *testing.T) {
	payload := "Here you go:\n```json\n" + `{
		"project": "E-commerce Store",
		"goal": "Build an online store",
		"tech_stack": {"frontend": "Next.js", "backend": "Node.js", "database": "PostgreSQL"},
		"features": ["stripe payments", "inventory"],
		"timeline": "2w",
		"outcome": "MVP",
		"scope_of_works": {"in_scope": [], "out_scope": [], "milestones": [], "risks": [], "kpis": []}
	}` + "\n```"
	c := &scripted{responses: []string{payload}}
	e := NewExtractor(c, nil)

	res := e.Extract(context.Background(), "Build an e-commerce store with Stripe payments and inventory", nil)
	require.False(t, res.NeedsClarification())
	require.NotNil(t, res.Scope)
	assert.Equal(t, "E-commerce Store", res.Scope.Project)
	assert.Len(t, res.Scope.Features, 2)
}

func TestExtractMalformedPayloadUsesFallback(t *testing.T) {
	c := &scripted{responses: []string{"sorry, I cannot produce JSON today"}}
	e := NewExtractor(c, nil)

	msg := "Build a task tracker with boards and swimlanes"
	res := e.Extract(context.Background(), msg, nil)
	require.NotNil(t, res.Scope)
	assert.Equal(t, "UserProject", res.Scope.Project)
	assert.Equal(t, msg, res.Scope.Goal)
	assert.Equal(t, []string{"core functionality"}, res.Scope.Features)
	assert.Equal(t, "1-2h", res.Scope.Timeline)
}

func TestExtractProviderErrorUsesFallback(t *testing.T) {
	c := &scripted{err: &completer.ProviderError{Reason: completer.ReasonTimeout}}
	e := NewExtractor(c, nil)

	res := e.Extract(context.Background(), "Build a recipe sharing site for home cooks", nil)
	require.NotNil(t, res.Scope)
	assert.Equal(t, "UserProject", res.Scope.Project)
}

func TestParseScopeVariants(t *testing.T) {
	base := `{"project":"P","goal":"G","features":["f"]}`

	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"bare json", base, true},
		{"fenced", "```json\n" + base + "\n```", true},
		{"fence without tag", "```\n" + base + "\n```", true},
		{"surrounding prose", "Sure thing!\n" + base + "\nLet me know.", true},
		{"no json", "I do not know", false},
		{"missing project", `{"goal":"G","features":[]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScope(tt.raw)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "P", s.Project)
			} else {
				require.Error(t, err)
			}
		})
	}
}
