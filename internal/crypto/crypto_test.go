package crypto

import (
	"strings"
	"testing"
)

func TestHashValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a"},
		{"abc", "abc", "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HashValue(tt.input)
			if got != tt.want {
				t.Errorf("HashValue(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHashValueIsStable(t *testing.T) {
	if HashValue("littleci") != HashValue("littleci") {
		t.Error("same input produced different digests")
	}
	if HashValue("littleci") == HashValue("littlecj") {
		t.Error("different inputs produced the same digest")
	}
}

func TestHashPasswordEncodedForm(t *testing.T) {
	encoded := HashPassword("hunter2", "0123456789abcdef")

	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=4096,t=3,p=1$") {
		t.Errorf("unexpected encoded prefix: %q", encoded)
	}
	if parts := strings.Split(encoded, "$"); len(parts) != 6 {
		t.Errorf("encoded form has %d segments, want 6: %q", len(parts), encoded)
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}

	tests := []struct {
		name     string
		password string
	}{
		{"simple", "hunter2"},
		{"empty", ""},
		{"unicode", "pässwörd 🔑"},
		{"long", strings.Repeat("correct horse battery staple ", 8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := HashPassword(tt.password, salt)

			if !VerifyPassword(tt.password, encoded) {
				t.Error("correct password did not verify")
			}
			if VerifyPassword(tt.password+"x", encoded) {
				t.Error("altered password verified")
			}
		})
	}
}

func TestVerifyPasswordMalformed(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"garbage", "not-a-hash"},
		{"wrong variant", "$argon2i$v=19$m=4096,t=3,p=1$c2FsdA$aGFzaA"},
		{"wrong version", "$argon2id$v=16$m=4096,t=3,p=1$c2FsdA$aGFzaA"},
		{"bad base64 salt", "$argon2id$v=19$m=4096,t=3,p=1$!!!$aGFzaA"},
		{"bad base64 hash", "$argon2id$v=19$m=4096,t=3,p=1$c2FsdA$!!!"},
		{"missing segments", "$argon2id$v=19$m=4096,t=3,p=1$c2FsdA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyPassword("anything", tt.encoded) {
				t.Errorf("malformed hash %q verified", tt.encoded)
			}
		})
	}
}

func TestVerifyPasswordDifferentSalts(t *testing.T) {
	s1, _ := NewSalt()
	s2, _ := NewSalt()
	if s1 == s2 {
		t.Fatal("two salts came out identical")
	}

	h1 := HashPassword("hunter2", s1)
	h2 := HashPassword("hunter2", s2)
	if h1 == h2 {
		t.Error("different salts produced the same hash")
	}

	// Both still verify, parameters travel with the hash.
	if !VerifyPassword("hunter2", h1) || !VerifyPassword("hunter2", h2) {
		t.Error("password failed to verify against its own hash")
	}
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		if len(id) != 24 {
			t.Fatalf("id %q has length %d, want 24", id, len(id))
		}
		for _, c := range id {
			if !strings.ContainsRune(alphaNumeric, c) {
				t.Fatalf("id %q contains non-alphanumeric %q", id, c)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewRepositorySecret(t *testing.T) {
	secret, err := NewRepositorySecret()
	if err != nil {
		t.Fatalf("NewRepositorySecret failed: %v", err)
	}

	// Stored form is a SHA3-256 digest: 64 lower-hex characters.
	if len(secret) != 64 {
		t.Errorf("secret length = %d, want 64", len(secret))
	}
	if secret != strings.ToLower(secret) {
		t.Errorf("secret is not lower-hex: %q", secret)
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("same", "same") {
		t.Error("equal strings compared unequal")
	}
	if SecureCompare("same", "diff") {
		t.Error("different strings compared equal")
	}
	if SecureCompare("short", "longer-string") {
		t.Error("different lengths compared equal")
	}
}
