package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Parallel()

	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(key.Plaintext, "nk_"+key.Prefix+"_") {
		t.Errorf("plaintext %q should start with nk_%s_", key.Plaintext, key.Prefix)
	}
	if len(key.Prefix) != KeyPrefixLen {
		t.Errorf("prefix length = %d, want %d", len(key.Prefix), KeyPrefixLen)
	}

	parsed, err := ParseAPIKey(key.Plaintext)
	if err != nil {
		t.Fatalf("generated key does not parse: %v", err)
	}
	if parsed.Prefix != key.Prefix {
		t.Errorf("parsed prefix = %s, want %s", parsed.Prefix, key.Prefix)
	}

	ok, err := VerifyKey(key.Plaintext, key.Hash)
	if err != nil || !ok {
		t.Errorf("generated hash does not verify: %v, %v", ok, err)
	}
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	t.Parallel()

	const n = 20
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey failed: %v", err)
		}
		if seen[key.Plaintext] {
			t.Fatalf("duplicate key at iteration %d", i)
		}
		seen[key.Plaintext] = true
	}
}

func TestParseAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		key        string
		wantPrefix string
		wantErr    bool
	}{
		{"valid", "nk_0a1b2c3d_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b", "0a1b2c3d", false},
		{"wrong scheme", "pk_0a1b2c3d_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b", "", true},
		{"short prefix", "nk_0a1b_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b", "", true},
		{"short secret", "nk_0a1b2c3d_4f8d2e1b", "", true},
		{"long secret", "nk_0a1b2c3d_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1bx", "", true},
		{"uppercase", "nk_0A1B2C3D_4F8D2E1B9C7A5F3D2E1B9C7A5F3D2E1B", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parsed, err := ParseAPIKey(tt.key)
			if tt.wantErr {
				if err != ErrInvalidKeyFormat {
					t.Errorf("ParseAPIKey(%q) error = %v, want ErrInvalidKeyFormat", tt.key, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAPIKey(%q) unexpected error: %v", tt.key, err)
			}
			if parsed.Prefix != tt.wantPrefix {
				t.Errorf("Prefix = %s, want %s", parsed.Prefix, tt.wantPrefix)
			}
		})
	}
}
