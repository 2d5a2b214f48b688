package security

import "testing"

func TestHashAndCheck(t *testing.T) {
	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if err := CheckPassword(hash, "password123"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := CheckPassword(hash, "password124"); err == nil {
		t.Fatalf("expected mismatch")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := map[string]bool{
		"short1":        false,
		"onlyletters":   false,
		"1234567890":    false,
		"password123":   true,
		"ünïcödé2024ok": true,
	}

	for pw, ok := range tests {
		err := ValidatePasswordStrength(pw)
		if ok && err != nil {
			t.Fatalf("%q should pass, got %v", pw, err)
		}
		if !ok && err != ErrWeakPassword {
			t.Fatalf("%q should fail with ErrWeakPassword, got %v", pw, err)
		}
	}
}
