// Package security provides deterministic sensitivity classification for
// memory content and channel-aware masking on the way out.
package security

import (
	"strings"

	"github.com/owlhub/platform/pkg/memory/store"
)

// Classifier assigns a security level to content by deterministic keyword
// matching. Created once at startup; stateless and safe for concurrent use.
type Classifier struct {
	restricted   []string
	confidential []string
	internal     []string
}

// NewClassifier creates a classifier with the built-in keyword sets.
func NewClassifier() *Classifier {
	return &Classifier{
		restricted: []string{
			"password", "passwd", "private key", "secret key", "api key",
			"api_key", "access token", "client_secret", "credential",
			"ssn", "credit card",
		},
		confidential: []string{
			"salary", "revenue", "contract", "invoice", "customer data",
			"personal data", "email address", "phone number", "address",
		},
		internal: []string{
			"internal", "roadmap", "draft", "unreleased", "staging",
			"incident", "postmortem",
		},
	}
}

// Classify returns the most restrictive level whose keyword set matches.
// Content with no matches is public.
func (c *Classifier) Classify(content string) store.SecurityLevel {
	lower := strings.ToLower(content)

	for _, kw := range c.restricted {
		if strings.Contains(lower, kw) {
			return store.LevelRestricted
		}
	}
	for _, kw := range c.confidential {
		if strings.Contains(lower, kw) {
			return store.LevelConfidential
		}
	}
	for _, kw := range c.internal {
		if strings.Contains(lower, kw) {
			return store.LevelInternal
		}
	}
	return store.LevelPublic
}
