// Package foundation holds small generic helpers shared across the agent.
package foundation

import (
	"fmt"
	"strings"
)

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalizer maps free-form user input onto a typed enum value. Lookup is
// case-insensitive and whitespace-tolerant, so config files and environment
// variables can be forgiving about casing.
type Normalizer[T comparable] struct {
	valid        map[string]T
	defaultValue T
}

// NewNormalizer builds a normalizer over valid string->value pairs.
func NewNormalizer[T comparable](values map[string]T, defaultValue T) *Normalizer[T] {
	valid := make(map[string]T, len(values))
	for k, v := range values {
		valid[canonical(k)] = v
	}
	return &Normalizer[T]{valid: valid, defaultValue: defaultValue}
}

// Normalize converts raw input to the enum type, falling back to the default
// for unrecognized input.
func (n *Normalizer[T]) Normalize(raw string) T {
	if value, ok := n.valid[canonical(raw)]; ok {
		return value
	}
	return n.defaultValue
}

// NormalizeWithError converts raw input to the enum type, rejecting
// unrecognized input.
func (n *Normalizer[T]) NormalizeWithError(raw string) (T, error) {
	if value, ok := n.valid[canonical(raw)]; ok {
		return value, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid value: %s", raw)
}
