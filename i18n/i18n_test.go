package i18n

import (
	"net/http/httptest"
	"testing"
)

func TestLocalesHaveSameKeys(t *testing.T) {
	if err := Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	langs := Languages()
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "fr" {
		t.Fatalf("Languages() = %v", langs)
	}
	for _, lang := range langs {
		for key := range translations[DefaultLang] {
			if _, ok := translations[lang][key]; !ok {
				t.Errorf("Locale %s is missing key %s", lang, key)
			}
		}
	}
}

func TestTFallback(t *testing.T) {
	if err := Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := T("fr", "SessionExpired"); got != "Votre session a expiré. Veuillez vous reconnecter." {
		t.Errorf("Unexpected French text %q", got)
	}
	if got := T("xx", "InvalidCredentials"); got != "Invalid username or password" {
		t.Errorf("Unknown language should fall back to English, got %q", got)
	}
	if got := T("en", "NoSuchKey"); got != "NoSuchKey" {
		t.Errorf("Missing key should return the key, got %q", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	if err := Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"fr-CH, fr;q=0.9, en;q=0.8", "fr"},
		{"de-DE, en;q=0.5", "en"},
		{"FR", "fr"},
		{"en;q=0.4, fr;q=0.8", "fr"},
		{"fr;q=0, en;q=0.1", "en"},
		{"de, es", "en"},
		{"fr;q=abc", "en"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Accept-Language", tt.header)
		}
		if got := DetectLanguage(req); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
