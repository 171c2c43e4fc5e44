// Package auth implements capability-scoped bearer credentials for the
// HTTP gateway.
package auth

import (
	"crypto/subtle"
	"fmt"
)

// Capability names one permitted operation class.
type Capability string

const (
	CapSwarmCreate    Capability = "SWARM_CREATE"
	CapSwarmControl   Capability = "SWARM_CONTROL"
	CapSwarmMonitor   Capability = "SWARM_MONITOR"
	CapAgentControl   Capability = "AGENT_CONTROL"
	CapAgentMonitor   Capability = "AGENT_MONITOR"
	CapMCPInvoke      Capability = "MCP_INVOKE"
	CapMCPAdmin       Capability = "MCP_ADMIN"
	CapWorkspaceWrite Capability = "WORKSPACE_WRITE"
	CapWorkspaceRead  Capability = "WORKSPACE_READ"
	CapUISearch       Capability = "UI_SEARCH"
	CapAdminMaster    Capability = "ADMIN_MASTER"
	CapAdminReadonly  Capability = "ADMIN_READONLY"
)

var knownCapabilities = map[Capability]bool{
	CapSwarmCreate: true, CapSwarmControl: true, CapSwarmMonitor: true,
	CapAgentControl: true, CapAgentMonitor: true,
	CapMCPInvoke: true, CapMCPAdmin: true,
	CapWorkspaceWrite: true, CapWorkspaceRead: true,
	CapUISearch: true, CapAdminMaster: true, CapAdminReadonly: true,
}

// readonlyCapabilities is what ADMIN_READONLY grants beyond itself.
var readonlyCapabilities = map[Capability]bool{
	CapSwarmMonitor: true, CapAgentMonitor: true, CapWorkspaceRead: true, CapUISearch: true,
}

// Credential is one configured token with its grants.
type Credential struct {
	token        string
	capabilities map[Capability]bool
}

// Allows reports whether the credential grants the capability.
// ADMIN_MASTER supersedes every other capability; ADMIN_READONLY covers
// the monitoring set.
func (c *Credential) Allows(cap Capability) bool {
	if c.capabilities[CapAdminMaster] {
		return true
	}
	if c.capabilities[CapAdminReadonly] && readonlyCapabilities[cap] {
		return true
	}
	return c.capabilities[cap]
}

// CredentialSet holds every configured credential. Lookup is by
// constant-time token comparison.
type CredentialSet struct {
	credentials []Credential
}

// NewCredentialSet builds a set from a token -> capability-names map,
// as produced by config.ParseCredentials. Unknown capability names are
// rejected so that a typo cannot silently grant nothing.
func NewCredentialSet(raw map[string][]string) (*CredentialSet, error) {
	set := &CredentialSet{}
	for token, names := range raw {
		caps := make(map[Capability]bool, len(names))
		for _, name := range names {
			c := Capability(name)
			if !knownCapabilities[c] {
				return nil, fmt.Errorf("auth: unknown capability %q", name)
			}
			caps[c] = true
		}
		set.credentials = append(set.credentials, Credential{token: token, capabilities: caps})
	}
	return set, nil
}

// Authenticate resolves a presented bearer token. Every configured
// token is compared so timing does not leak which prefix matched.
func (s *CredentialSet) Authenticate(token string) (*Credential, bool) {
	if token == "" {
		return nil, false
	}
	var found *Credential
	for i := range s.credentials {
		c := &s.credentials[i]
		if subtle.ConstantTimeCompare([]byte(c.token), []byte(token)) == 1 {
			found = c
		}
	}
	return found, found != nil
}

// Empty reports whether no credentials are configured. An empty set
// locks the API down rather than opening it up.
func (s *CredentialSet) Empty() bool {
	return len(s.credentials) == 0
}
