package completer

import (
	"fmt"
	"time"

	"github.com/swarmhq/swarmd/pkg/config"
)

// New is the single entry point for constructing the daemon's
// Completer from configuration: one client per credential, wrapped in
// credential rotation.
func New(cfg config.CompleterConfig) (Completer, error) {
	var factory func(key string) Completer
	switch cfg.Provider {
	case "openai", "":
		factory = func(key string) Completer {
			return NewOpenAIClient(key, cfg.BaseURL, cfg.Model, cfg.Timeout)
		}
	case "anthropic":
		factory = func(key string) Completer {
			return NewAnthropicClient(key, cfg.Model, cfg.Timeout)
		}
	default:
		return nil, fmt.Errorf("completer: unknown provider %q", cfg.Provider)
	}

	cooldown := time.Minute
	if cfg.CooldownS > 0 {
		cooldown = time.Duration(cfg.CooldownS) * time.Second
	}
	return NewRotating(cfg.Keys, cooldown, factory)
}
