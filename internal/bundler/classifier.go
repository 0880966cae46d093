package bundler

import "strings"

// Category buckets a provider error for routing decisions. Only
// rate_limit and retryable justify trying the secondary provider;
// everything else would fail identically there.
type Category string

const (
	CategoryRateLimit   Category = "rate_limit"
	CategoryRetryable   Category = "retryable"
	CategoryUnderpriced Category = "underpriced"
	CategoryValidation  Category = "validation"
	CategoryFatal       Category = "fatal"
)

// classifierRules maps categories to their triggering substrings,
// matched case-insensitively. Order matters: the first category with a
// match wins.
var classifierRules = []struct {
	category Category
	triggers []string
}{
	{CategoryRateLimit, []string{"429", "rate limit", "too many requests"}},
	{CategoryRetryable, []string{"timeout", "timed out", "econnreset", "5xx", "network"}},
	{CategoryUnderpriced, []string{"underpriced", "fee too low", "max fee"}},
	{CategoryValidation, []string{"simulatevalidation", "invalid signature", "insufficient prefund", "paymaster"}},
}

// Classify buckets a provider error message.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(msg, trigger) {
				return rule.category
			}
		}
	}
	// ERC-4337 entrypoint revert codes (AA10..AA95) are validation
	// failures; match "aa" only when a digit follows.
	for i := 0; i+2 < len(msg); i++ {
		if msg[i] == 'a' && msg[i+1] == 'a' && msg[i+2] >= '0' && msg[i+2] <= '9' {
			return CategoryValidation
		}
	}
	return CategoryFatal
}

// FailoverWorthy reports whether an error category justifies a
// secondary-provider attempt.
func FailoverWorthy(c Category) bool {
	return c == CategoryRateLimit || c == CategoryRetryable
}
