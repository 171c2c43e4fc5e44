package completer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type profile struct {
	id        string
	completer Completer
}

// Rotating distributes completion calls round-robin across a pool of
// credentials. A credential that gets rate-limited sits out a cooldown
// window while the rest of the pool keeps serving.
type Rotating struct {
	mu        sync.Mutex
	profiles  []profile
	lastUsed  map[string]time.Time
	coolUntil map[string]time.Time
	cooldown  time.Duration
	now       func() time.Time
}

// NewRotating builds a rotating completer. factory constructs the
// underlying client for one credential.
func NewRotating(keys []string, cooldown time.Duration, factory func(key string) Completer) (*Rotating, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("completer: no credentials configured")
	}
	r := &Rotating{
		lastUsed:  make(map[string]time.Time, len(keys)),
		coolUntil: make(map[string]time.Time, len(keys)),
		cooldown:  cooldown,
		now:       time.Now,
	}
	for i, key := range keys {
		id := fmt.Sprintf("key:%d", i)
		r.profiles = append(r.profiles, profile{id: id, completer: factory(key)})
		r.lastUsed[id] = time.Time{}
	}
	return r, nil
}

// Complete tries credentials in round-robin order (least recently used
// first), skipping any in cooldown. A rate-limited credential is put on
// cooldown and the next one is tried; every other error surfaces as-is.
func (r *Rotating) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	tried := make(map[string]bool, len(r.profiles))

	for {
		p := r.nextAvailable(tried)
		if p == nil {
			return "", &ProviderError{
				Reason: ReasonRateLimited,
				Err:    fmt.Errorf("all %d credentials exhausted or cooling down", len(r.profiles)),
			}
		}
		tried[p.id] = true

		text, err := p.completer.Complete(ctx, prompt, opts)
		if err == nil {
			r.markSuccess(p.id)
			return text, nil
		}

		var provErr *ProviderError
		if errors.As(err, &provErr) && provErr.Reason == ReasonRateLimited {
			r.markRateLimited(p.id)
			continue
		}
		return "", err
	}
}

func (r *Rotating) nextAvailable(tried map[string]bool) *profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var best *profile
	var bestTime time.Time
	first := true

	for i := range r.profiles {
		p := &r.profiles[i]
		if tried[p.id] || now.Before(r.coolUntil[p.id]) {
			continue
		}
		lu := r.lastUsed[p.id]
		if first || lu.Before(bestTime) {
			best = p
			bestTime = lu
			first = false
		}
	}

	if best != nil {
		r.lastUsed[best.id] = now
	}
	return best
}

func (r *Rotating) markRateLimited(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coolUntil[id] = r.now().Add(r.cooldown)
}

func (r *Rotating) markSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.coolUntil, id)
}

// AvailableCount returns how many credentials are currently usable.
func (r *Rotating) AvailableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	count := 0
	for _, p := range r.profiles {
		if !now.Before(r.coolUntil[p.id]) {
			count++
		}
	}
	return count
}
