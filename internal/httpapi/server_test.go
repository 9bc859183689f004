package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nexd/internal/fault"
	"nexd/pkg/types"
)

// fakeService is a minimal Service for handler tests.
type fakeService struct {
	models    []types.Model
	ready     bool
	inferErr  error
	streamErr error
	result    types.InferenceResult
	ended     []string
}

func (f *fakeService) ListModels(context.Context) []types.Model { return f.models }
func (f *fakeService) Status() types.StatusResponse {
	return types.StatusResponse{State: "ready"}
}
func (f *fakeService) Metrics() types.MetricsSnapshot {
	return types.MetricsSnapshot{WindowRequests: 7}
}
func (f *fakeService) Ready() bool { return f.ready }

func (f *fakeService) EndSession(id string) int {
	f.ended = append(f.ended, id)
	return 12
}

func (f *fakeService) InferSync(_ context.Context, req types.InferRequest) (types.InferenceResult, error) {
	if f.inferErr != nil {
		return types.InferenceResult{}, f.inferErr
	}
	return f.result, nil
}

func (f *fakeService) InferStream(_ context.Context, req types.InferRequest, w io.Writer, flush func()) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	io.WriteString(w, `{"token":"hi"}`+"\n")
	io.WriteString(w, `{"done":true}`+"\n")
	if flush != nil {
		flush()
	}
	return nil
}

func postInfer(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/infer", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestModelsEndpoint(t *testing.T) {
	svc := &fakeService{models: []types.Model{{ID: "tiny", Provider: "local"}}, ready: true}
	h := NewMux(svc)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/models", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp types.ModelsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Models) != 1 || resp.Models[0].ID != "tiny" {
		t.Fatalf("models = %+v", resp.Models)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := NewMux(&fakeService{ready: true})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"state":"ready"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := NewMux(&fakeService{ready: true})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var m types.MetricsSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.WindowRequests != 7 {
		t.Fatalf("snapshot = %+v", m)
	}
}

func TestInferRequiresJSONContentType(t *testing.T) {
	h := NewMux(&fakeService{ready: true})
	req := httptest.NewRequest(http.MethodPost, "/infer", bytes.NewBufferString(`{"prompt":"hi"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rr.Code)
	}
}

func TestInferRejectsBadJSON(t *testing.T) {
	h := NewMux(&fakeService{ready: true})
	if rr := postInfer(t, h, `{not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestInferRejectsEmptyPrompt(t *testing.T) {
	h := NewMux(&fakeService{ready: true})
	if rr := postInfer(t, h, `{"prompt":"  "}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestInferSyncSuccess(t *testing.T) {
	svc := &fakeService{ready: true, result: types.InferenceResult{Output: "hi", Provider: "local"}}
	h := NewMux(svc)
	rr := postInfer(t, h, `{"prompt":"hello"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var res types.InferenceResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Output != "hi" {
		t.Fatalf("result = %+v", res)
	}
}

func TestInferStreamNDJSON(t *testing.T) {
	h := NewMux(&fakeService{ready: true})
	rr := postInfer(t, h, `{"prompt":"hello","stream":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "done") {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestInferErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fault.New(fault.InvalidArgument, "bad"), http.StatusBadRequest},
		{fault.New(fault.ResourceExhausted, "full"), http.StatusTooManyRequests},
		{fault.New(fault.ProviderError, "upstream"), http.StatusBadGateway},
		{fault.New(fault.NoRouteAvailable, "none"), http.StatusServiceUnavailable},
		{fault.New(fault.ServiceUnavailable, "draining"), http.StatusServiceUnavailable},
		{fault.New(fault.Timeout, "slow"), http.StatusGatewayTimeout},
		{fault.New(fault.Internal, "bug"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewMux(&fakeService{ready: true, inferErr: tc.err})
		rr := postInfer(t, h, `{"prompt":"hello"}`)
		if rr.Code != tc.want {
			t.Errorf("err %v: status = %d, want %d", tc.err, rr.Code, tc.want)
		}
		var er types.ErrorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil {
			t.Fatalf("error body not JSON: %s", rr.Body.String())
		}
		if er.Code != tc.want {
			t.Errorf("payload code = %d, want %d", er.Code, tc.want)
		}
	}
}

func TestEndSessionEndpoint(t *testing.T) {
	svc := &fakeService{ready: true}
	h := NewMux(svc)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/sessions/abc", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %s", rr.Body.String())
	}
	if body["freed_mb"] != 12 {
		t.Fatalf("freed_mb = %d, want 12", body["freed_mb"])
	}
	if len(svc.ended) != 1 || svc.ended[0] != "abc" {
		t.Fatalf("ended sessions = %v", svc.ended)
	}
}

func TestHealthAndReady(t *testing.T) {
	h := NewMux(&fakeService{ready: false})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503 while draining", rr.Code)
	}
}
