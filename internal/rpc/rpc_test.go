package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vesselkit/vessel/internal/config"
	apperrors "github.com/vesselkit/vessel/internal/errors"
	"github.com/vesselkit/vessel/internal/logging"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(config.RPCConfig{Path: "/jsonrpc", BatchCap: 4}, logging.NewNop())
	d.MustRegister("echo", func(_ context.Context, params json.RawMessage) (any, error) {
		var v any
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, InvalidParams("params must be valid JSON")
		}
		return v, nil
	})
	d.MustRegister("math.add", func(_ context.Context, params json.RawMessage) (any, error) {
		var nums []float64
		if err := json.Unmarshal(params, &nums); err != nil {
			return nil, InvalidParams("params must be an array of numbers")
		}
		var sum float64
		for _, n := range nums {
			sum += n
		}
		return sum, nil
	})
	d.MustRegister("fail", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	return d
}

func post(t *testing.T, d *Dispatcher, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func TestSingleCall(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":"2.0","method":"math.add","params":[1,2,3],"id":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JSONRPC != Version {
		t.Errorf("expected version %q, got %q", Version, resp.JSONRPC)
	}
	if got, ok := resp.Result.(float64); !ok || got != 6 {
		t.Errorf("expected result 6, got %v", resp.Result)
	}
	if string(resp.ID) != "1" {
		t.Errorf("expected id 1, got %s", resp.ID)
	}
}

func TestGlobalNamespace(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":"2.0","method":"echo","params":{"a":1},"id":"x"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestParseError(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected code %d, got %+v", CodeParseError, resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Errorf("expected null id, got %s", resp.ID)
	}
}

func TestInvalidRequestShapes(t *testing.T) {
	d := newTestDispatcher(t)
	cases := []struct {
		name string
		body string
	}{
		{"not an object", `"hello"`},
		{"missing jsonrpc", `{"method":"echo","id":1}`},
		{"wrong version", `{"jsonrpc":"1.0","method":"echo","id":1}`},
		{"numeric method", `{"jsonrpc":"2.0","method":42,"id":1}`},
		{"object id", `{"jsonrpc":"2.0","method":"echo","id":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, d, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var resp Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
				t.Errorf("expected code %d, got %+v", CodeInvalidRequest, resp.Error)
			}
		})
	}
}

func TestMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":"2.0","method":"missing","id":7}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected code %d, got %+v", CodeMethodNotFound, resp.Error)
	}
	if string(resp.ID) != "7" {
		t.Errorf("expected id 7, got %s", resp.ID)
	}
}

func TestInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":"2.0","method":"math.add","params":"nope","id":2}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("expected code %d, got %+v", CodeInvalidParams, resp.Error)
	}
}

func TestHandlerErrorMapsToInternal(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":"2.0","method":"fail","id":3}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("expected code %d, got %+v", CodeInternalError, resp.Error)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	d := newTestDispatcher(t)
	d.MustRegister("unprocessable", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, apperrors.Unprocessable("bad shape")
	})
	d.MustRegister("gone", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, apperrors.NotFound("no such record")
	})

	rec := post(t, d, `{"jsonrpc":"2.0","method":"unprocessable","id":1}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	rec = post(t, d, `{"jsonrpc":"2.0","method":"gone","id":2}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNotificationReturnsNoContent(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":"2.0","method":"echo","params":[1]}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestBatchCleanResults(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `[
		{"jsonrpc":"2.0","method":"math.add","params":[1,1],"id":1},
		{"jsonrpc":"2.0","method":"echo","params":"hi","id":2}
	]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resps []Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resps); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	if string(resps[0].ID) != "1" || string(resps[1].ID) != "2" {
		t.Errorf("responses out of order: %s, %s", resps[0].ID, resps[1].ID)
	}
}

func TestBatchMixedOutcomesIsMultiStatus(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `[
		{"jsonrpc":"2.0","method":"math.add","params":[1,1],"id":1},
		{"jsonrpc":"2.0","method":"missing","id":2}
	]`)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rec.Code)
	}
	var resps []Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resps); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Errorf("first call should succeed, got %+v", resps[0].Error)
	}
	if resps[1].Error == nil || resps[1].Error.Code != CodeMethodNotFound {
		t.Errorf("expected method-not-found, got %+v", resps[1].Error)
	}
}

func TestBatchAllNotifications(t *testing.T) {
	d := newTestDispatcher(t)
	var (
		mu    sync.Mutex
		calls int
	)
	d.MustRegister("track", func(_ context.Context, _ json.RawMessage) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, nil
	})
	rec := post(t, d, `[
		{"jsonrpc":"2.0","method":"track"},
		{"jsonrpc":"2.0","method":"track"}
	]`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	// Notification goroutines are joined before the response is written.
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("expected 2 notification calls, got %d", calls)
	}
}

func TestBatchOverCap(t *testing.T) {
	d := newTestDispatcher(t)
	var items []string
	for i := 0; i < 5; i++ {
		items = append(items, fmt.Sprintf(`{"jsonrpc":"2.0","method":"echo","params":1,"id":%d}`, i))
	}
	rec := post(t, d, "["+strings.Join(items, ",")+"]")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestEmptyBatch(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `[]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBatchInvalidItemReportsInPlace(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `[
		{"jsonrpc":"2.0","method":"echo","params":1,"id":1},
		"junk"
	]`)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rec.Code)
	}
	var resps []Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resps); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	if resps[1].Error == nil || resps[1].Error.Code != CodeInvalidRequest {
		t.Errorf("expected invalid-request for junk item, got %+v", resps[1].Error)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	d := newTestDispatcher(t)
	d.MustRegister("panic", func(_ context.Context, _ json.RawMessage) (any, error) {
		panic("kaboom")
	})
	rec := post(t, d, `{"jsonrpc":"2.0","method":"panic","id":1}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("expected internal error, got %+v", resp.Error)
	}
}

func TestNullIDIsACall(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, `{"jsonrpc":"2.0","method":"echo","params":"x","id":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(resp.ID) != "null" {
		t.Errorf("expected null id echoed, got %s", resp.ID)
	}
}

func TestMethodsListing(t *testing.T) {
	d := newTestDispatcher(t)
	names := d.Methods()
	want := map[string]bool{"echo": false, "math.add": false, "fail": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("method %q missing from listing", n)
		}
	}
}

func TestContextCancellationReachesHandler(t *testing.T) {
	d := newTestDispatcher(t)
	d.MustRegister("wait", func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return "late", nil
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", strings.NewReader(`{"jsonrpc":"2.0","method":"wait","id":1}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
