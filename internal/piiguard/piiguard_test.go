package piiguard

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateForLLM_Reject(t *testing.T) {
	policy := Policy{InputHasPII: true, Handling: HandlingReject}

	_, err := ValidateForLLM(policy, map[string]any{"name": "Alice"})
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
}

func TestValidateForLLM_MaskBeforeLLM(t *testing.T) {
	policy := Policy{
		InputHasPII: true,
		Handling:    HandlingMaskBeforeLLM,
		PIIFields:   []string{"email", "name"},
	}
	input := map[string]any{"email": "a@b.com", "name": "Alice", "amount": 3}

	out, err := ValidateForLLM(policy, input)
	if err != nil {
		t.Fatalf("mask handling: %v", err)
	}
	if out["email"] != "[MASKED]" || out["name"] != "[MASKED]" {
		t.Errorf("declared fields not masked: %v", out)
	}
	if out["amount"] != 3 {
		t.Errorf("undeclared field changed: %v", out["amount"])
	}
	if input["email"] != "a@b.com" {
		t.Errorf("input mutated in place")
	}
}

func TestValidateForLLM_NoPII(t *testing.T) {
	input := map[string]any{"email": "a@b.com"}
	out, err := ValidateForLLM(Policy{Handling: HandlingReject}, input)
	if err != nil {
		t.Fatalf("no-pii policy: %v", err)
	}
	if out["email"] != "a@b.com" {
		t.Errorf("data changed without declared PII: %v", out)
	}
}

func TestSanitizeString_Email(t *testing.T) {
	got := SanitizeErrorMessage("contact me at a@b.com")
	if !strings.Contains(got, "[EMAIL]") {
		t.Errorf("missing email token: %q", got)
	}
	if strings.Contains(got, "a@b.com") {
		t.Errorf("email survived sanitizing: %q", got)
	}

	// Sanitizing again is a no-op.
	if again := SanitizeErrorMessage(got); again != got {
		t.Errorf("not idempotent: %q -> %q", got, again)
	}
}

func TestSanitizeString_Patterns(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		token string
	}{
		{"intl phone", "call +81-90-1234-5678 now", "[PHONE]"},
		{"domestic phone", "call 03-1234-5678 now", "[PHONE]"},
		{"card", "pay with 4111 1111 1111 1111 please", "[CARD]"},
		{"postal", "ship to 123-4567", "[POSTAL]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeErrorMessage(tc.in)
			if !strings.Contains(got, tc.token) {
				t.Errorf("SanitizeErrorMessage(%q) = %q, want token %s", tc.in, got, tc.token)
			}
		})
	}
}

func TestSanitizeForLog_SensitiveKeys(t *testing.T) {
	in := map[string]any{
		"password":    "hunter2",
		"api_key":     "sk-123",
		"card_number": 4111111111111111,
		"note":        "mail a@b.com",
		"nested": map[string]any{
			"user_email": "x@y.org",
			"count":      2,
		},
		"items": []any{"a@b.com", 1},
	}

	out, ok := SanitizeForLog(in).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", SanitizeForLog(in))
	}
	for _, k := range []string{"password", "api_key", "card_number"} {
		if out[k] != "[MASKED]" {
			t.Errorf("%s = %v, want [MASKED]", k, out[k])
		}
	}
	if got := out["note"].(string); !strings.Contains(got, "[EMAIL]") {
		t.Errorf("note not pattern-masked: %q", got)
	}
	nested := out["nested"].(map[string]any)
	if nested["user_email"] != "[MASKED]" {
		t.Errorf("nested sensitive key survived: %v", nested["user_email"])
	}
	if nested["count"] != 2 {
		t.Errorf("nested non-sensitive value changed: %v", nested["count"])
	}
	items := out["items"].([]any)
	if s := items[0].(string); !strings.Contains(s, "[EMAIL]") {
		t.Errorf("slice element not masked: %q", s)
	}
}

func TestSanitize_Truncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	if got := SanitizeForLog(long).(string); len(got) != 1000 {
		t.Errorf("log truncation: len = %d, want 1000", len(got))
	}
	if got := SanitizeErrorMessage(long); len(got) != 500 {
		t.Errorf("error truncation: len = %d, want 500", len(got))
	}
}

func TestSanitize_TruncationKeepsValidUTF8(t *testing.T) {
	// 200 three-byte runes: the 500-byte error limit falls mid-rune.
	long := strings.Repeat("あ", 200)

	got := SanitizeErrorMessage(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got[len(got)-6:])
	}
	if len(got) != 498 {
		t.Errorf("len = %d, want 498 (last whole rune before the limit)", len(got))
	}
	if !strings.HasSuffix(got, "あ") {
		t.Errorf("truncated string does not end on a whole rune")
	}
}
