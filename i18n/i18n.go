// Package i18n serves the UI strings bundled under locales/.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

//go:embed locales/*.json
var localeFS embed.FS

// DefaultLang is served when the browser accepts none of the bundled locales.
const DefaultLang = "en"

var (
	mu           sync.RWMutex
	translations = map[string]map[string]string{}
)

// Load parses every bundled locale. The default locale must be present.
func Load() error {
	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return err
	}
	loaded := make(map[string]map[string]string, len(files))
	for _, name := range files {
		data, err := localeFS.ReadFile(name)
		if err != nil {
			return err
		}
		var strs map[string]string
		if err := json.Unmarshal(data, &strs); err != nil {
			return fmt.Errorf("locale %s: %w", name, err)
		}
		loaded[strings.TrimSuffix(path.Base(name), ".json")] = strs
	}
	if _, ok := loaded[DefaultLang]; !ok {
		return fmt.Errorf("default locale %q not bundled", DefaultLang)
	}

	mu.Lock()
	translations = loaded
	mu.Unlock()
	return nil
}

// Languages returns the loaded locale codes, sorted.
func Languages() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(translations))
	for lang := range translations {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// T returns the string for key in lang, then in DefaultLang, then key itself.
func T(lang, key string) string {
	mu.RLock()
	defer mu.RUnlock()
	if val, ok := translations[lang][key]; ok {
		return val
	}
	if val, ok := translations[DefaultLang][key]; ok {
		return val
	}
	return key
}

func supported(lang string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := translations[lang]
	return ok
}

// DetectLanguage picks the bundled locale with the highest Accept-Language
// weight, matching on the primary subtag ("fr-CH" counts as "fr").
func DetectLanguage(r *http.Request) string {
	best, bestQ := DefaultLang, 0.0
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		tag, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		primary, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(tag)), "-")
		if primary == "" || !supported(primary) {
			continue
		}
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			q = parsed
		}
		if q > bestQ {
			best, bestQ = primary, q
		}
	}
	return best
}
