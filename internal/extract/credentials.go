package extract

import (
	"strings"
	"sync"
	"time"
)

// minKeyLength is the shortest key accepted as plausibly real.
const minKeyLength = 6

// ValidKey reports whether key is present and minimally well-formed.
func ValidKey(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && key != "undefined" && len(key) >= minKeyLength
}

// Credentials holds the API key used for extraction. Set, Clear and
// Invalidate are the only writers.
type Credentials struct {
	mu        sync.RWMutex
	key       string
	source    string
	updatedAt time.Time
}

// CredentialStatus describes the stored key without revealing it.
type CredentialStatus struct {
	Configured bool      `json:"configured"`
	Source     string    `json:"source,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	Hint       string    `json:"hint,omitempty"`
}

// NewCredentials creates a store seeded with key if it is valid.
func NewCredentials(key, source string) *Credentials {
	c := &Credentials{}
	_ = c.Set(key, source)
	return c
}

// Set replaces the key. Invalid keys are rejected with KindAPIKeyMissing.
func (c *Credentials) Set(key, source string) error {
	if !ValidKey(key) {
		return &Error{Kind: KindAPIKeyMissing, Message: "API key is empty or malformed"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = strings.TrimSpace(key)
	c.source = source
	c.updatedAt = time.Now()
	return nil
}

// Key returns the current key or a KindAPIKeyMissing error.
func (c *Credentials) Key() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !ValidKey(c.key) {
		return "", &Error{Kind: KindAPIKeyMissing, Message: "no API key configured"}
	}
	return c.key, nil
}

// Invalidate clears the key only if it still equals rejected, so a key set
// concurrently by a user is not discarded.
func (c *Credentials) Invalidate(rejected string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == "" || c.key != rejected {
		return false
	}
	c.key = ""
	c.source = "invalidated"
	c.updatedAt = time.Now()
	return true
}

// Clear removes the key.
func (c *Credentials) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = ""
	c.source = ""
	c.updatedAt = time.Now()
}

// Status reports whether a key is configured.
func (c *Credentials) Status() CredentialStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := CredentialStatus{
		Configured: ValidKey(c.key),
		Source:     c.source,
		UpdatedAt:  c.updatedAt,
	}
	if st.Configured {
		st.Hint = "…" + c.key[len(c.key)-4:]
	}
	return st
}
