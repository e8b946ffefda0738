package security

import (
	"regexp"
	"testing"
)

var recoveryCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{5}-[A-HJ-NP-Z2-9]{5}-[A-HJ-NP-Z2-9]{5}$`)

func TestGenerateRecoveryCodeFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := GenerateRecoveryCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !recoveryCodePattern.MatchString(code) {
			t.Fatalf("code %q has unexpected format", code)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestNormalizeRecoveryCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"ABCDE-FGHJK-MNPQR", "ABCDEFGHJKMNPQR", true},
		{"abcde fghjk mnpqr", "ABCDEFGHJKMNPQR", true},
		{"abcdefghjkmnpqr", "ABCDEFGHJKMNPQR", true},
		{"ABCDE-FGHJK", "", false},
		{"ABCDE-FGHJK-MNPQ0", "", false},
		{"ABCDE-FGHJK-MNPQRS", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeRecoveryCode(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NormalizeRecoveryCode(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHashRecoveryCodeIsUserScoped(t *testing.T) {
	a := HashRecoveryCode(1, "ABCDEFGHJKMNPQR")
	b := HashRecoveryCode(2, "ABCDEFGHJKMNPQR")
	if a == b {
		t.Fatalf("hash must differ across users")
	}
	if a != HashRecoveryCode(1, "ABCDEFGHJKMNPQR") {
		t.Fatalf("hash must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64", len(a))
	}
}
