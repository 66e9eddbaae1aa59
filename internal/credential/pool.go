// Package credential implements rotation across equivalent forge API tokens.
package credential

import "sync"

// Credential is a single bearer-style API token. The zero value means "no
// credential": calls proceed with the caller's ambient identity.
type Credential struct {
	Token string
}

// IsZero reports whether this is the "no credential" sentinel.
func (c Credential) IsZero() bool { return c.Token == "" }

// Redacted returns a log-safe rendering of the token.
func (c Credential) Redacted() string { return Redact(c.Token) }

// Redact renders a secret as a fixed-width suffix-only string. Secrets must
// never appear whole in any message or log.
func Redact(token string) string {
	const visible = 4
	if len(token) <= visible {
		return "****"
	}
	return "****" + token[len(token)-visible:]
}

// Pool rotates among zero or more equivalent credentials and tracks
// per-credential failure counts. A failing credential is never removed; it
// may recover. Counter updates are the only shared mutable state across
// concurrent dispatch invocations.
type Pool struct {
	mu       sync.Mutex
	creds    []Credential
	failures []int
	next     int
}

// NewPool creates a pool from the given tokens. Empty tokens are dropped.
func NewPool(tokens []string) *Pool {
	p := &Pool{}
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		p.creds = append(p.creds, Credential{Token: tok})
		p.failures = append(p.failures, 0)
	}
	return p
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Next returns the next credential in deterministic round-robin order,
// wrapping at the end. An empty pool returns the zero Credential.
func (p *Pool) Next() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return Credential{}
	}
	c := p.creds[p.next]
	p.next = (p.next + 1) % len(p.creds)
	return c
}

// Best returns the credential with the lowest failure count, ties broken by
// pool order. An empty pool returns the zero Credential.
func (p *Pool) Best() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return Credential{}
	}
	best := 0
	for i := 1; i < len(p.creds); i++ {
		if p.failures[i] < p.failures[best] {
			best = i
		}
	}
	return p.creds[best]
}

// MarkFailed increments the failure counter for the given credential.
func (p *Pool) MarkFailed(c Credential) {
	if c.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.creds {
		if p.creds[i].Token == c.Token {
			p.failures[i]++
			return
		}
	}
}

// Token implements the forge token source: each call rotates to the next
// credential. Used when the caller does not select credentials per call.
func (p *Pool) Token() string {
	return p.Next().Token
}
