// Package catalog exposes the read-only UI-component catalog used as
// planning context. The real search database lives outside the kernel;
// this package only defines the capability and a static file-backed
// implementation.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Component is one searchable UI component.
type Component struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Catalog is the read-only component search capability.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]Component, error)
	// Summary returns a short textual digest suitable for inclusion in
	// an extraction prompt.
	Summary() string
}

// Static serves a fixed component list loaded at startup.
type Static struct {
	components []Component
}

// LoadStatic reads a JSON component list from path. An empty path
// yields an empty catalog rather than an error, so the daemon can run
// without one.
func LoadStatic(path string) (*Static, error) {
	if path == "" {
		return &Static{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var components []Component
	if err := json.Unmarshal(data, &components); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &Static{components: components}, nil
}

func (s *Static) Search(_ context.Context, query string, limit int) ([]Component, error) {
	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(query)
	var out []Component
	for _, c := range s.components {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(c.Name), needle) ||
			strings.Contains(strings.ToLower(c.Description), needle) ||
			strings.Contains(strings.ToLower(c.Category), needle) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Static) Summary() string {
	if len(s.components) == 0 {
		return ""
	}
	byCategory := make(map[string][]string)
	order := []string{}
	for _, c := range s.components {
		if _, seen := byCategory[c.Category]; !seen {
			order = append(order, c.Category)
		}
		byCategory[c.Category] = append(byCategory[c.Category], c.Name)
	}

	var b strings.Builder
	b.WriteString("Available UI components: ")
	for i, category := range order {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s (%s)", category, strings.Join(byCategory[category], ", "))
	}
	return b.String()
}
