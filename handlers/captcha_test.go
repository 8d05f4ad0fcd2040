package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/dchest/captcha"
)

// recordingStore keeps captcha digits in memory so tests can read answers.
type recordingStore struct {
	mu     sync.Mutex
	digits map[string][]byte
}

func (s *recordingStore) Set(id string, digits []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digits[id] = digits
}

func (s *recordingStore) Get(id string, clear bool) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.digits[id]
	if clear {
		delete(s.digits, id)
	}
	return d
}

func (s *recordingStore) answer(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, d := range s.digits[id] {
		b.WriteByte('0' + d)
	}
	return b.String()
}

var captchaIDPattern = regexp.MustCompile(`name="captcha_id" value="([^"]+)"`)

func TestCaptchaAfterFailures(t *testing.T) {
	store := &recordingStore{digits: map[string][]byte{}}
	captcha.SetCustomStore(store)

	e := newTestEnv(t, 2)

	e.do(formLogin("admin", "wrong", nil))
	w := e.do(formLogin("admin", "wrong", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}
	m := captchaIDPattern.FindStringSubmatch(w.Body.String())
	if m == nil {
		t.Fatal("Captcha not offered after two failures")
	}

	w = e.do(formLogin("admin", "admin", nil))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Please solve the captcha") {
		t.Fatalf("Expected captcha demand, got %d", w.Code)
	}
	m = captchaIDPattern.FindStringSubmatch(w.Body.String())
	if m == nil {
		t.Fatal("No fresh captcha in response")
	}
	id := m[1]

	img := e.do(httptest.NewRequest("GET", "/captcha/"+id+".png", nil))
	if img.Code != http.StatusOK || img.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Captcha image returned %d %s", img.Code, img.Header().Get("Content-Type"))
	}

	w = e.do(formLogin("admin", "admin", url.Values{"captcha_id": {id}, "captcha_solution": {"000000000"}}))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "captcha answer was wrong") {
		t.Fatalf("Expected wrong captcha, got %d", w.Code)
	}
	id = captchaIDPattern.FindStringSubmatch(w.Body.String())[1]

	w = e.do(formLogin("admin", "admin", url.Values{"captcha_id": {id}, "captcha_solution": {store.answer(id)}}))
	if w.Code != http.StatusSeeOther {
		t.Errorf("Expected login with solved captcha, got %d: %s", w.Code, w.Body.String())
	}
}
