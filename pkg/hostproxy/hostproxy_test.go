package hostproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type allowAllLeases struct{}

func (allowAllLeases) Owns(ctx context.Context, hostName, deviceID, sessionID string) (bool, error) {
	return true, nil
}

func TestExecuteBatchPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := BatchResult{
			Success: false,
			Results: []ActionResult{
				{Command: "click", Success: true},
				{Command: "type_text", Success: false, Error: "element not found"},
			},
			PassedCount: 1,
			TotalCount:  2,
		}
		json.NewEncoder(w).Encode(result)
	}))
	defer srv.Close()

	resolver := NewStaticResolver(map[string]string{"h1": srv.URL})
	p := New(resolver, allowAllLeases{}, 2, 0)

	result, err := p.ExecuteBatch(context.Background(), "h1", "d1", "s1",
		[]ActionRequest{{Command: "click"}, {Command: "type_text"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.PassedCount != 1 || result.TotalCount != 2 {
		t.Errorf("unexpected batch result: %+v", result)
	}
	if result.Success {
		t.Errorf("expected overall success=false with a partial failure")
	}
}

func TestCallRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "screenshot_url": "http://x/1.jpg"})
	}))
	defer srv.Close()

	resolver := NewStaticResolver(map[string]string{"h1": srv.URL})
	p := New(resolver, nil, 2, 0)
	url, err := p.TakeScreenshot(context.Background(), "h1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://x/1.jpg" {
		t.Errorf("unexpected url: %q", url)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts (1 failure + 1 retry), got %d", attempts)
	}
}

func TestUnknownHostFails(t *testing.T) {
	resolver := NewStaticResolver(nil)
	p := New(resolver, nil, 0, 0)
	_, err := p.TakeScreenshot(context.Background(), "missing", "d1")
	if err == nil {
		t.Fatal("expected error for unregistered host")
	}
}
