// Package piiguard redacts and masks personal data before it reaches a
// logger or a language-model call. Skills declare a policy; the guard
// enforces it and provides pattern-based sanitizers for free-form text.
package piiguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrPolicyViolation is returned when a skill's PII policy forbids the
// requested data flow.
var ErrPolicyViolation = errors.New("pii policy violation")

// Handling is what to do when PII is about to reach an LLM.
type Handling string

const (
	// HandlingReject refuses the call outright.
	HandlingReject Handling = "REJECT"
	// HandlingMaskBeforeLLM masks the declared fields before the call.
	HandlingMaskBeforeLLM Handling = "MASK_BEFORE_LLM"
	// HandlingAllowWithConsent passes through; consent verification is the
	// caller's responsibility.
	HandlingAllowWithConsent Handling = "ALLOW_WITH_CONSENT"
)

// Policy is a skill's declaration of the personal data it touches.
type Policy struct {
	InputHasPII  bool     `yaml:"input_has_pii" json:"input_has_pii"`
	OutputHasPII bool     `yaml:"output_has_pii" json:"output_has_pii"`
	PIIFields    []string `yaml:"pii_fields" json:"pii_fields"`
	Handling     Handling `yaml:"handling" json:"handling"`
}

const (
	maskToken = "[MASKED]"

	maxLogLen   = 1000
	maxErrorLen = 500
)

// Pattern substitutions run in declaration order. International phone must
// run before the domestic pattern or the country prefix survives masking.
var patternSubs = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\+\d{1,3}[-\s]?\d{1,4}[-\s]?\d{2,4}[-\s]?\d{3,4}`), "[PHONE]"},
	{regexp.MustCompile(`0\d{1,4}-?\d{1,4}-?\d{3,4}`), "[PHONE]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "[CARD]"},
	{regexp.MustCompile(`\b\d{3}-?\d{4}\b`), "[POSTAL]"},
}

// Key names whose entire value is replaced, regardless of type.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"credential", "private_key", "card", "cvv", "ssn", "phone",
	"email", "address", "birth", "dob",
}

// ValidateForLLM enforces the policy before input is handed to a language
// model. REJECT fails fast; MASK_BEFORE_LLM defers to MaskFields;
// ALLOW_WITH_CONSENT passes through.
func ValidateForLLM(policy Policy, input map[string]any) (map[string]any, error) {
	if !policy.InputHasPII {
		return input, nil
	}
	switch policy.Handling {
	case HandlingReject:
		return nil, fmt.Errorf("%w: skill input contains PII and handling is %s",
			ErrPolicyViolation, HandlingReject)
	case HandlingMaskBeforeLLM:
		return MaskFields(input, policy.PIIFields), nil
	case HandlingAllowWithConsent:
		return input, nil
	default:
		return nil, fmt.Errorf("%w: unknown handling %q", ErrPolicyViolation, policy.Handling)
	}
}

// MaskFields returns a copy of data with the named top-level fields replaced
// by the mask token. Unknown fields are ignored.
func MaskFields(data map[string]any, fields []string) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, f := range fields {
		if _, ok := out[f]; ok {
			out[f] = maskToken
		}
	}
	return out
}

// SanitizeForLog walks v and returns a copy safe to log: string leaves pass
// through the pattern substitutions and are truncated past 1000 characters;
// map values under sensitive key names are replaced wholesale.
func SanitizeForLog(v any) any {
	return sanitize(v, maxLogLen)
}

// SanitizeErrorMessage applies the pattern substitutions to an error message
// and truncates it past 500 characters.
func SanitizeErrorMessage(msg string) string {
	return sanitizeString(msg, maxErrorLen)
}

func sanitize(v any, limit int) any {
	switch t := v.(type) {
	case string:
		return sanitizeString(t, limit)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = maskToken
				continue
			}
			out[k] = sanitize(val, limit)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitize(val, limit)
		}
		return out
	default:
		return v
	}
}

func sanitizeString(s string, limit int) string {
	for _, sub := range patternSubs {
		s = sub.re.ReplaceAllString(s, sub.token)
	}
	if len(s) > limit {
		// Back off to a rune boundary so the cut never leaves invalid UTF-8.
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, name := range sensitiveKeys {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}
