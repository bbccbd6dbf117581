package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/vesselkit/vessel/internal/errors"
	"github.com/vesselkit/vessel/internal/logging"
)

func newTestNormalizer(debug bool) *Normalizer {
	return NewNormalizer(Config{Debug: debug}, logging.NewNop())
}

func decodeDoc(t *testing.T, rec *httptest.ResponseRecorder) Document {
	t.Helper()
	var doc Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode problem document: %v", err)
	}
	return doc
}

func TestNormalizeServiceError(t *testing.T) {
	n := newTestNormalizer(false)
	req := httptest.NewRequest("GET", "/things/7", nil)

	doc, _ := n.Normalize(req, apperrors.NotFound("thing 7 absent"))
	if doc.Status != 404 || doc.Title != "Not Found" || doc.Detail != "thing 7 absent" {
		t.Fatalf("bad document: %+v", doc)
	}
	if doc.Instance != "/things/7" {
		t.Errorf("expected instance path, got %q", doc.Instance)
	}
}

func TestNormalizeUnknownErrorHidesDetail(t *testing.T) {
	n := newTestNormalizer(false)
	req := httptest.NewRequest("GET", "/", nil)

	doc, _ := n.Normalize(req, errors.New("database exploded"))
	if doc.Status != 500 {
		t.Fatalf("expected 500, got %d", doc.Status)
	}
	if strings.Contains(doc.Detail, "database exploded") {
		t.Error("non-debug detail must not leak internals")
	}
}

func TestNormalizeUnknownErrorDebugStack(t *testing.T) {
	n := newTestNormalizer(true)
	req := httptest.NewRequest("GET", "/", nil)

	doc, _ := n.Normalize(req, errors.New("database exploded"))
	if !strings.Contains(doc.Detail, "database exploded") || !strings.Contains(doc.Detail, "goroutine") {
		t.Error("debug detail should include message and stack")
	}
}

func TestWriteContentTypeNegotiation(t *testing.T) {
	n := newTestNormalizer(false)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	n.Write(rec, req, apperrors.BadRequest("nope"))
	if ct := rec.Header().Get("Content-Type"); ct != MimeJSON {
		t.Errorf("expected problem+json, got %q", ct)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "application/xml")
	rec = httptest.NewRecorder()
	n.Write(rec, req, apperrors.BadRequest("nope"))
	if ct := rec.Header().Get("Content-Type"); ct != MimeXML {
		t.Errorf("expected problem+xml, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<problem>") {
		t.Errorf("expected xml body, got %s", rec.Body.String())
	}
}

func TestWriteForcedContentTypeID(t *testing.T) {
	n := NewNormalizer(Config{ContentTypeID: "vnd.vessel"}, logging.NewNop())
	rec := httptest.NewRecorder()
	n.Write(rec, httptest.NewRequest("GET", "/", nil), apperrors.BadRequest("x"))
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.vessel+json" {
		t.Errorf("expected forced content type, got %q", ct)
	}
}

func TestEnrichMethodNotAllowed(t *testing.T) {
	n := newTestNormalizer(false)
	err := apperrors.MethodNotAllowed("nope").WithHeader("Allow", "GET, POST")

	doc, headers := n.Normalize(httptest.NewRequest("PUT", "/", nil), err)
	if headers.Get("Allow") != "GET, POST" {
		t.Error("Allow header must be preserved")
	}
	resp, _ := doc.Response.(map[string]any)
	allowed, _ := resp["allowed"].([]string)
	if len(allowed) != 2 || allowed[0] != "GET" || allowed[1] != "POST" {
		t.Fatalf("expected allowed methods, got %#v", resp["allowed"])
	}
}

func TestEnrichUnauthorizedChallenges(t *testing.T) {
	n := newTestNormalizer(false)
	err := apperrors.Unauthorized("token missing").
		WithHeader("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)

	doc, _ := n.Normalize(httptest.NewRequest("GET", "/", nil), err)
	resp, _ := doc.Response.(map[string]any)
	challenges, _ := resp["authenticate"].([]map[string]any)
	if len(challenges) != 1 {
		t.Fatalf("expected one challenge, got %#v", resp["authenticate"])
	}
	if challenges[0]["scheme"] != "Bearer" {
		t.Errorf("scheme: %v", challenges[0]["scheme"])
	}
	params, _ := challenges[0]["params"].(map[string]string)
	if params["realm"] != "api" || params["error"] != "invalid_token" {
		t.Errorf("params: %#v", params)
	}
}

func TestEnrichRetryAfterBecomesHTTPDate(t *testing.T) {
	n := newTestNormalizer(false)
	err := apperrors.RateLimited(10, "minute").WithHeader("Retry-After", "30")

	_, headers := n.Normalize(httptest.NewRequest("GET", "/", nil), err)
	retry := headers.Get("Retry-After")
	if _, parseErr := http.ParseTime(retry); parseErr != nil {
		t.Fatalf("expected HTTP-date Retry-After, got %q: %v", retry, parseErr)
	}
}

func TestEnrichContentRange(t *testing.T) {
	n := newTestNormalizer(false)
	se := &apperrors.ServiceError{
		Code:       apperrors.CodeValidation,
		Message:    "range not satisfiable",
		HTTPStatus: http.StatusRequestedRangeNotSatisfiable,
	}
	se = se.WithHeader("Content-Range", "bytes */1500")

	doc, _ := n.Normalize(httptest.NewRequest("GET", "/", nil), se)
	resp, _ := doc.Response.(map[string]any)
	if resp["units"] != "bytes" || resp["length"] != int64(1500) {
		t.Fatalf("expected units/length, got %#v", resp)
	}
}

func TestRecoverPanics(t *testing.T) {
	n := newTestNormalizer(false)
	handler := n.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	doc := decodeDoc(t, rec)
	if doc.Status != 500 {
		t.Fatalf("body must be a problem document, got %s", rec.Body.String())
	}
}

func TestDispatcherSubdomain(t *testing.T) {
	n := newTestNormalizer(false)
	d := NewDispatcher(DispatchSubdomain, "example.com", n)

	hit := false
	d.Register(Blueprint{
		Name:      "api",
		Subdomain: "api",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hit = true
			w.WriteHeader(http.StatusNotFound)
		}),
	})

	req := httptest.NewRequest("GET", "/nothing", nil)
	req.Host = "api.example.com"
	d.NotFound(httptest.NewRecorder(), req)
	if !hit {
		t.Fatal("expected blueprint handler for matching subdomain")
	}

	// Unmatched host falls back to the default document.
	req = httptest.NewRequest("GET", "/nothing", nil)
	req.Host = "other.example.com"
	rec := httptest.NewRecorder()
	d.NotFound(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected default 404 document, got %d", rec.Code)
	}
}

func TestDispatcherURLPrefix(t *testing.T) {
	n := newTestNormalizer(false)
	d := NewDispatcher(DispatchURLPrefix, "", n)

	var hitName string
	mk := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hitName = name
			w.WriteHeader(http.StatusNotFound)
		})
	}
	d.Register(Blueprint{Name: "admin", URLPrefix: "/admin", Handler: mk("admin")})
	d.Register(Blueprint{Name: "v2", URLPrefix: "/v2", Handler: mk("v2")})

	d.NotFound(httptest.NewRecorder(), httptest.NewRequest("GET", "/v2/unknown", nil))
	if hitName != "v2" {
		t.Fatalf("expected v2 blueprint, got %q", hitName)
	}
}

func TestDispatcherDefaultMode(t *testing.T) {
	n := newTestNormalizer(false)
	d := NewDispatcher(DispatchDefault, "", n)
	rec := httptest.NewRecorder()
	d.MethodNotAllowed(rec, httptest.NewRequest("PUT", "/", nil))
	if rec.Code != 405 {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	doc := decodeDoc(t, rec)
	if doc.Status != 405 {
		t.Fatalf("bad document: %+v", doc)
	}
}
