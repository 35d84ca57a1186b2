package password

import (
	"errors"
	"testing"
)

func TestValidatePolicy(t *testing.T) {
	cases := []struct {
		name     string
		password string
		valid    bool
	}{
		{"all requirements met", "Correct-Horse-7", true},
		{"unicode symbol counts", "Grüne0Wiese£x", true},
		{"too short", "Ab1!x", false},
		{"no upper", "lowercase-only-7!", false},
		{"no lower", "UPPERCASE-ONLY-7!", false},
		{"no digit", "NoDigitsHere-Alpha!", false},
		{"no symbol", "NoSymbolsHere7Alpha", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePolicy(tc.password)
			if tc.valid && err != nil {
				t.Fatalf("ValidatePolicy(%q) = %v, want nil", tc.password, err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("ValidatePolicy(%q) accepted a weak password", tc.password)
			}
		})
	}
}

func TestPolicyErrorListsEveryFailure(t *testing.T) {
	err := ValidatePolicy("short")
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T, want *PolicyError", err)
	}
	// "short" misses length, upper, digit and symbol.
	if len(pe.Failures) != 4 {
		t.Fatalf("failures = %v, want 4 entries", pe.Failures)
	}
}
