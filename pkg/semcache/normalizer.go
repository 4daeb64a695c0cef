package semcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PromptNormalizer maps a raw prompt to its canonical form. Prompts with the
// same canonical form share one cache entry.
type PromptNormalizer interface {
	Normalize(prompt string) string
}

// DefaultNormalizer trims surrounding whitespace, lowercases, and collapses
// internal whitespace runs to single spaces. "What is Go?" and
// "  what is go?  " normalize identically.
type DefaultNormalizer struct{}

// NewDefaultNormalizer creates the standard normalizer.
func NewDefaultNormalizer() *DefaultNormalizer {
	return &DefaultNormalizer{}
}

// Normalize canonicalizes a prompt.
func (n *DefaultNormalizer) Normalize(prompt string) string {
	fields := strings.Fields(strings.ToLower(prompt))
	return strings.Join(fields, " ")
}

// HashPrompt returns the hex-encoded SHA-256 of a normalized prompt. This is
// the entry identity used for exact lookup, overwrite, and invalidation.
func HashPrompt(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
