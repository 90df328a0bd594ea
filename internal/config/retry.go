package config

import "github.com/divertscan/fieldsync/internal/foundation"

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var backoffNormalizer = foundation.NewNormalizer(map[string]RetryBackoffMode{
	string(RetryBackoffFixed):       RetryBackoffFixed,
	string(RetryBackoffLinear):      RetryBackoffLinear,
	string(RetryBackoffExponential): RetryBackoffExponential,
}, RetryBackoffExponential)

// NormalizeRetryBackoff converts arbitrary user input into a typed mode,
// defaulting to exponential.
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	return backoffNormalizer.Normalize(raw)
}
