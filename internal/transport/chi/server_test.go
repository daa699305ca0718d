package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/usecase/health"
	"github.com/kailas-cloud/recipedex/internal/usecase/retrieval"
	"github.com/kailas-cloud/recipedex/internal/usecase/scoring"
)

type fakeRetriever struct {
	lastReq   retrieval.Request
	lastForce bool
	lastID    string

	resp   retrieval.Response
	report retrieval.IndexReport
	count  int
	err    error
	panics bool
}

func (f *fakeRetriever) Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Response, error) {
	if f.panics {
		panic("boom")
	}
	f.lastReq = req
	domain.UsageFromContext(ctx).Record(2, 42)
	return f.resp, f.err
}

func (f *fakeRetriever) BuildIndex(_ context.Context, force bool) (retrieval.IndexReport, error) {
	f.lastForce = force
	return f.report, f.err
}

func (f *fakeRetriever) Refresh(_ context.Context, id string) error {
	f.lastID = id
	return f.err
}

func (f *fakeRetriever) Forget(_ context.Context, id string) error {
	f.lastID = id
	return f.err
}

func (f *fakeRetriever) ClearIndex(_ context.Context) (int, error) { return f.count, f.err }

func (f *fakeRetriever) CachedCount(_ context.Context) (int, error) { return f.count, f.err }

type fakeHealth struct {
	report health.Report
}

func (f *fakeHealth) Check(_ context.Context) health.Report { return f.report }

func newTestHandler(rt *fakeRetriever, h *fakeHealth) http.Handler {
	if h == nil {
		h = &fakeHealth{report: health.Report{Status: health.Healthy, Checks: map[string]health.CheckResult{}}}
	}
	return NewServer(rt, h, zap.NewNop()).Handler(nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return e
}

func TestRetrieve_OK(t *testing.T) {
	sem := 0.9
	rt := &fakeRetriever{resp: retrieval.Response{
		Results: []retrieval.Result{{
			Recipe:     domain.Recipe{ID: "1", Title: "Overnight oats", Macros: domain.Macros{Kcal: domain.Float(385)}},
			Score:      0.8,
			Components: scoring.Components{Semantic: &sem},
		}},
		UsedEmbeddings: true,
		Stats: retrieval.Stats{
			CandidatesTotal: 6,
			CandidatesKept:  2,
			Rejected:        map[scoring.Reason]int{scoring.ReasonConstraint: 4},
		},
	}}
	h := newTestHandler(rt, nil)

	rr := do(t, h, "POST", "/v1/retrieve", `{
		"message": "oats",
		"constraints": {"max_kcal": 400},
		"preferences": {"vegan": true},
		"cuisines": ["italian"],
		"required_ingredients": ["oats"],
		"servings": 2,
		"top_k": 3,
		"weights": {"semantic": 1}
	}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if got := rr.Header().Get("X-Embedding-Tokens"); got != "42" {
		t.Errorf("X-Embedding-Tokens: got %q, want 42", got)
	}

	req := rt.lastReq
	if req.Message != "oats" || req.TopK != 3 || req.Servings != 2 {
		t.Errorf("unexpected request mapping: %+v", req)
	}
	if req.Constraints["max_kcal"] != float64(400) || !req.Preferences["vegan"] {
		t.Errorf("unexpected constraints or preferences: %+v", req)
	}
	if len(req.Cuisines) != 1 || len(req.RequiredIngredients) != 1 {
		t.Errorf("unexpected lists: %+v", req)
	}
	if req.Weights == nil || req.Weights.Semantic != 1 {
		t.Errorf("expected weight override, got %+v", req.Weights)
	}

	var resp retrieveResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Recipe.ID != "1" || !resp.UsedEmbeddings {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Results[0].Components.Semantic == nil || *resp.Results[0].Components.Semantic != 0.9 {
		t.Errorf("unexpected components: %+v", resp.Results[0].Components)
	}
	if resp.Notes == nil || resp.Results[0].Recipe.Tags == nil {
		t.Error("lists must encode as [] rather than null")
	}
	if resp.Stats.Rejected["constraint"] != 4 || resp.Stats.EmbeddingCalls != 1 || resp.Stats.EmbeddingTokens != 42 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
}

func TestRetrieve_BadBody(t *testing.T) {
	h := newTestHandler(&fakeRetriever{}, nil)

	for _, body := range []string{`{`, `{"message": "x", "calories": 3}`, `[]`} {
		rr := do(t, h, "POST", "/v1/retrieve", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: got %d, want 400", body, rr.Code)
		}
		if e := decodeError(t, rr); e.Code != codeBadRequest {
			t.Errorf("body %s: got code %s", body, e.Code)
		}
	}
}

func TestRetrieve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  errorCode
	}{
		{
			"invalid constraint",
			fmt.Errorf("constraints: %w: max_kcal must not be negative", domain.ErrInvalidConstraint),
			http.StatusBadRequest, codeInvalidConstraint,
		},
		{"catalog failure", errors.New("list catalog: disk I/O error"), http.StatusInternalServerError, codeInternal},
		{"cache io", fmt.Errorf("%w: boom", domain.ErrCacheIO), http.StatusServiceUnavailable, codeCacheIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeRetriever{err: tt.err}, nil)
			rr := do(t, h, "POST", "/v1/retrieve", `{"message": "x"}`)
			if rr.Code != tt.wantCode {
				t.Fatalf("got %d, want %d", rr.Code, tt.wantCode)
			}
			e := decodeError(t, rr)
			if e.Code != tt.wantErr {
				t.Errorf("got code %s, want %s", e.Code, tt.wantErr)
			}
			if tt.wantErr == codeInternal && strings.Contains(e.Message, "disk") {
				t.Error("internal details leaked to the client")
			}
		})
	}
}

func TestBuildIndex(t *testing.T) {
	rt := &fakeRetriever{report: retrieval.IndexReport{Items: 6, Computed: 6}}
	h := newTestHandler(rt, nil)

	rr := do(t, h, "POST", "/v1/index/build?force=true", "")
	if rr.Code != http.StatusOK || !rt.lastForce {
		t.Fatalf("got %d, force=%v", rr.Code, rt.lastForce)
	}
	var report indexReportDTO
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Items != 6 || report.Computed != 6 {
		t.Errorf("unexpected report: %+v", report)
	}

	if rr := do(t, h, "POST", "/v1/index/build?force=maybe", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad force: got %d", rr.Code)
	}
}

func TestBuildIndex_ProviderFailure(t *testing.T) {
	rt := &fakeRetriever{
		report: retrieval.IndexReport{Items: 6, Computed: 2, ProviderFailed: true},
		err:    fmt.Errorf("build index: %w", domain.ErrProviderUnavailable),
	}
	rr := do(t, newTestHandler(rt, nil), "POST", "/v1/index/build", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("got %d, want 502", rr.Code)
	}
	var body struct {
		Code   errorCode      `json:"code"`
		Report indexReportDTO `json:"report"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != codeProviderUnavailable || body.Report.Computed != 2 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestIndexItems(t *testing.T) {
	rt := &fakeRetriever{}
	h := newTestHandler(rt, nil)

	if rr := do(t, h, "POST", "/v1/index/items/42/refresh", ""); rr.Code != http.StatusNoContent {
		t.Errorf("refresh: got %d", rr.Code)
	}
	if rt.lastID != "42" {
		t.Errorf("refresh id: got %q", rt.lastID)
	}
	if rr := do(t, h, "DELETE", "/v1/index/items/7", ""); rr.Code != http.StatusNoContent || rt.lastID != "7" {
		t.Errorf("forget: got %d, id %q", rr.Code, rt.lastID)
	}

	rt.err = fmt.Errorf("get recipe 404: %w", domain.ErrNotFound)
	rr := do(t, h, "POST", "/v1/index/items/404/refresh", "")
	if rr.Code != http.StatusNotFound || decodeError(t, rr).Code != codeNotFound {
		t.Errorf("refresh unknown: got %d", rr.Code)
	}

	rt.err = fmt.Errorf("refresh 1: %w", domain.ErrProviderTimeout)
	if rr := do(t, h, "POST", "/v1/index/items/1/refresh", ""); rr.Code != http.StatusGatewayTimeout {
		t.Errorf("refresh timeout: got %d", rr.Code)
	}
}

func TestIndexCountAndClear(t *testing.T) {
	rt := &fakeRetriever{count: 5}
	h := newTestHandler(rt, nil)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/v1/index/count"},
		{"DELETE", "/v1/index"},
	} {
		rr := do(t, h, tc.method, tc.path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s %s: got %d", tc.method, tc.path, rr.Code)
		}
		var c countDTO
		if err := json.NewDecoder(rr.Body).Decode(&c); err != nil || c.Count != 5 {
			t.Errorf("%s %s: got %+v, %v", tc.method, tc.path, c, err)
		}
	}

	rt.err = retrieval.ErrEmbeddingsDisabled
	rr := do(t, h, "GET", "/v1/index/count", "")
	if rr.Code != http.StatusConflict || decodeError(t, rr).Code != codeEmbeddingsDisabled {
		t.Errorf("disabled: got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		status health.Status
		want   int
	}{
		{health.Healthy, http.StatusOK},
		{health.Degraded, http.StatusOK},
		{health.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		h := newTestHandler(&fakeRetriever{}, &fakeHealth{report: health.Report{
			Status: tt.status,
			Checks: map[string]health.CheckResult{health.ComponentCatalog: health.CheckOK},
		}})
		rr := do(t, h, "GET", "/health", "")
		if rr.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.status, rr.Code, tt.want)
		}
		var body healthResponse
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != string(tt.status) || body.Checks[health.ComponentCatalog] != "ok" {
			t.Errorf("unexpected body: %+v", body)
		}
	}
}

func TestPanicRecovered(t *testing.T) {
	rr := do(t, newTestHandler(&fakeRetriever{panics: true}, nil), "POST", "/v1/retrieve", `{}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rr.Code)
	}
	if decodeError(t, rr).Code != codeInternal {
		t.Error("expected internal_error code")
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHandler(&fakeRetriever{}, nil)
	if rr := do(t, h, "GET", "/v1/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rr.Code)
	}
	if rr := do(t, h, "GET", "/v1/retrieve", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("got %d, want 405", rr.Code)
	}
}
