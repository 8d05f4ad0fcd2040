package crypto

import (
	"strings"
	"testing"
)

func TestHashPasswordKnownVector(t *testing.T) {
	got := HashPassword("admin", "00112233445566778899aabbccddeeff")
	want := "60cb0a9e7495efbd9ed7d1216a585a1e83b7c5e60182a6fd8d9784532783f996"
	if got != want {
		t.Errorf("HashPassword = %s, want %s", got, want)
	}

	got = HashPassword("password", "0123456789abcdef0123456789abcdef")
	want = "db04bd021286d3e9d4685fde494b984ea16d998a4902065fabe25aacaac774ef"
	if got != want {
		t.Errorf("HashPassword = %s, want %s", got, want)
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	salt := "somesweetandsaltysalt"
	h1 := HashPassword("correct horse battery staple", salt)
	h2 := HashPassword("correct horse battery staple", salt)
	if h1 != h2 {
		t.Error("HashPassword with same inputs produced different results")
	}
	if len(h1) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(h1))
	}
}

func TestHashPasswordDistinctSalts(t *testing.T) {
	s1, _ := GenerateSalt()
	s2, _ := GenerateSalt()
	if s1 == s2 {
		t.Fatal("GenerateSalt produced identical salts")
	}
	if HashPassword("secret", s1) == HashPassword("secret", s2) {
		t.Error("Different salts produced the same hash")
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	encoded := HashPassword("mypassword", salt)

	if !VerifyPassword("mypassword", salt, encoded) {
		t.Error("VerifyPassword failed for correct password")
	}
	for _, wrong := range []string{"", "mypassword ", "MyPassword", "wrongpassword"} {
		if VerifyPassword(wrong, salt, encoded) {
			t.Errorf("VerifyPassword succeeded for %q", wrong)
		}
	}
	if VerifyPassword("mypassword", salt, encoded[:10]) {
		t.Error("VerifyPassword succeeded against a truncated hash")
	}
}

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	if len(salt) != 32 {
		t.Errorf("Expected 32 hex chars, got %d", len(salt))
	}
	if strings.Trim(salt, "0123456789abcdef") != "" {
		t.Errorf("Salt is not lowercase hex: %s", salt)
	}
}
