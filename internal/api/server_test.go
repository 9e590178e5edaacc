package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/config"
	"copydesk/internal/proofread"
	"copydesk/internal/types"
)

type stubOps struct {
	err      error
	cancelOK bool
	merge    *proofread.MergeResult
	task     *types.PublishTask

	calls       []string
	gotItemID   int64
	gotTo       types.ItemStatus
	gotNote     string
	gotActor    string
	gotProvider types.Provider
}

func (s *stubOps) Advance(ctx context.Context, itemID int64, to types.ItemStatus, actor string) error {
	s.calls = append(s.calls, "advance")
	s.gotItemID, s.gotTo, s.gotActor = itemID, to, actor
	return s.err
}

func (s *stubOps) Reset(ctx context.Context, itemID int64, to types.ItemStatus, note, actor string) error {
	s.calls = append(s.calls, "reset")
	s.gotItemID, s.gotTo, s.gotNote, s.gotActor = itemID, to, note, actor
	return s.err
}

func (s *stubOps) AddNote(ctx context.Context, itemID int64, text, actor string) error {
	s.calls = append(s.calls, "note")
	s.gotItemID, s.gotNote, s.gotActor = itemID, text, actor
	return s.err
}

func (s *stubOps) RequestCancel(itemID int64) bool {
	s.calls = append(s.calls, "cancel")
	s.gotItemID = itemID
	return s.cancelOK
}

func (s *stubOps) RequestReparse(ctx context.Context, itemID int64, actor string) error {
	s.calls = append(s.calls, "reparse")
	s.gotItemID, s.gotActor = itemID, actor
	return s.err
}

func (s *stubOps) ReOptimize(ctx context.Context, itemID int64, actor string) error {
	s.calls = append(s.calls, "reoptimize")
	s.gotItemID, s.gotActor = itemID, actor
	return s.err
}

func (s *stubOps) ReProofread(ctx context.Context, itemID int64, actor string) error {
	s.calls = append(s.calls, "reproofread")
	s.gotItemID, s.gotActor = itemID, actor
	return s.err
}

func (s *stubOps) FinalizeReview(ctx context.Context, itemID int64, actor string) (*proofread.MergeResult, error) {
	s.calls = append(s.calls, "finalize")
	s.gotItemID, s.gotActor = itemID, actor
	if s.err != nil {
		return nil, s.err
	}
	return s.merge, nil
}

func (s *stubOps) TriggerPublish(ctx context.Context, itemID int64, provider types.Provider, actor string) (*types.PublishTask, error) {
	s.calls = append(s.calls, "publish")
	s.gotItemID, s.gotProvider, s.gotActor = itemID, provider, actor
	if s.err != nil {
		return nil, s.err
	}
	return s.task, nil
}

type stubReviews struct {
	merge  *proofread.MergeResult
	rs     *types.RuleSet
	report *proofread.QualityReport
	err    error

	calls        []string
	gotPublisher string
}

func (s *stubReviews) Preview(ctx context.Context, articleID int64) (*proofread.MergeResult, error) {
	s.calls = append(s.calls, "preview")
	if s.err != nil {
		return nil, s.err
	}
	return s.merge, nil
}

func (s *stubReviews) PublishRuleset(ctx context.Context, rulesetID int64, publisher string) (*types.RuleSet, error) {
	s.calls = append(s.calls, "publish_ruleset")
	s.gotPublisher = publisher
	if s.err != nil {
		return nil, s.err
	}
	return s.rs, nil
}

func (s *stubReviews) BuildQualityReport(ctx context.Context) (*proofread.QualityReport, error) {
	s.calls = append(s.calls, "build_report")
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubReviews) LatestQualityReport(ctx context.Context) (*proofread.QualityReport, error) {
	s.calls = append(s.calls, "latest_report")
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

type stubSecrets struct {
	keys []string
	err  error
}

func (s *stubSecrets) List(ctx context.Context) ([]string, error) {
	return s.keys, s.err
}

const testToken = "sesame-token"

func newTestHandler(t *testing.T, ops *stubOps, reviews *stubReviews, secrets *stubSecrets) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.AuthToken = testToken
	return NewServer(cfg, nil, ops, reviews, secrets, nil, nil).Router()
}

type request struct {
	method   string
	path     string
	token    string
	operator string
	body     any
}

func do(t *testing.T, h http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, r.path, &buf)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.operator != "" {
		req.Header.Set("X-Operator", r.operator)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenRequired(t *testing.T) {
	h := newTestHandler(t, &stubOps{}, &stubReviews{}, &stubSecrets{keys: []string{"cms_username"}})

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/credentials"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, request{method: http.MethodGet, path: "/api/v1/credentials", token: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, request{method: http.MethodGet, path: "/api/v1/credentials", token: testToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmptyConfiguredTokenDisablesCheck(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.AuthToken = ""
	h := NewServer(cfg, nil, &stubOps{}, &stubReviews{}, &stubSecrets{keys: []string{"k"}}, nil, nil).Router()

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/credentials"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpointsSkipAuth(t *testing.T) {
	h := newTestHandler(t, &stubOps{}, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, request{method: http.MethodGet, path: "/readyz"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzDegradedOnVaultFailure(t *testing.T) {
	h := newTestHandler(t, &stubOps{}, &stubReviews{}, &stubSecrets{err: errors.New("connection refused")})

	rec := do(t, h, request{method: http.MethodGet, path: "/readyz"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Contains(t, body.Components["vault"], "connection refused")
}

func TestAdvanceMovesItem(t *testing.T) {
	ops := &stubOps{}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/7/advance",
		token: testToken, operator: "maria",
		body: map[string]string{"to": "parsing_review"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, int64(7), ops.gotItemID)
	assert.Equal(t, types.StatusParsingReview, ops.gotTo)
	assert.Equal(t, "maria", ops.gotActor)
}

func TestAdvanceRejectsUnknownStatus(t *testing.T) {
	ops := &stubOps{}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/7/advance",
		token: testToken, body: map[string]string{"to": "warp"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ops.calls)
}

func TestAdvanceRejectsUnknownFields(t *testing.T) {
	ops := &stubOps{}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/7/advance",
		token: testToken, body: map[string]any{"to": "pending", "bogus": true},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ops.calls)
}

func TestAdvanceRejectsMissingBody(t *testing.T) {
	h := newTestHandler(t, &stubOps{}, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/7/advance", token: testToken,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvanceRejectsBadID(t *testing.T) {
	h := newTestHandler(t, &stubOps{}, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/zero/advance",
		token: testToken, body: map[string]string{"to": "pending"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", types.ErrNotFound, http.StatusNotFound},
		{"queue full", fmt.Errorf("%w: parse lane", types.ErrBusy), http.StatusTooManyRequests},
		{"stale state", fmt.Errorf("%w: revision moved", types.ErrStaleState), http.StatusConflict},
		{"cancelled", types.ErrCancelled, http.StatusConflict},
		{"invalid transition", fmt.Errorf("%w: pending -> published", types.ErrInvalidTransition), http.StatusUnprocessableEntity},
		{"cost cap", types.ErrCostCapExceeded, http.StatusUnprocessableEntity},
		{"bad upstream", types.ErrInvalidUpstream, http.StatusUnprocessableEntity},
		{"transient", errors.New("connection refused by peer"), http.StatusServiceUnavailable},
		{"timeout", fmt.Errorf("%w: parsing after 2m", types.ErrTimeout), http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := &stubOps{err: tt.err}
			h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

			rec := do(t, h, request{
				method: http.MethodPost, path: "/api/v1/worklist/9/advance",
				token: testToken, body: map[string]string{"to": "parsing"},
			})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var body struct {
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.NotEmpty(t, body.Kind)
		})
	}
}

func TestResetRequiresNote(t *testing.T) {
	ops := &stubOps{}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/4/reset",
		token: testToken, body: map[string]string{"to": "pending"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ops.calls)

	rec = do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/4/reset",
		token: testToken, operator: "li",
		body: map[string]string{"to": "pending", "note": "source doc replaced"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, "source doc replaced", ops.gotNote)
	assert.Equal(t, "li", ops.gotActor)
}

func TestCancelReportsWhetherJobWasRunning(t *testing.T) {
	ops := &stubOps{cancelOK: true}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{method: http.MethodPost, path: "/api/v1/worklist/6/cancel", token: testToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled": true}`, rec.Body.String())

	ops.cancelOK = false
	rec = do(t, h, request{method: http.MethodPost, path: "/api/v1/worklist/6/cancel", token: testToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled": false}`, rec.Body.String())
}

func TestStageRerunsAreAccepted(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/api/v1/worklist/3/reparse", "reparse"},
		{"/api/v1/worklist/3/reoptimize", "reoptimize"},
		{"/api/v1/worklist/3/reproofread", "reproofread"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			ops := &stubOps{}
			h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

			rec := do(t, h, request{method: http.MethodPost, path: tt.path, token: testToken})
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			assert.Equal(t, []string{tt.call}, ops.calls)
			assert.Equal(t, int64(3), ops.gotItemID)
		})
	}
}

func TestEditArticleRejectsEmptyEdit(t *testing.T) {
	h := newTestHandler(t, &stubOps{}, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPut, path: "/api/v1/worklist/3/article",
		token: testToken, body: map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no fields to update")

	rec = do(t, h, request{
		method: http.MethodPut, path: "/api/v1/worklist/3/article",
		token: testToken, body: map[string]any{"body_html": "<p>nope</p>"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code,
		"the body is owned by parsing and review, not this endpoint")
}

func TestFinalizeReportsMergeWithoutBody(t *testing.T) {
	ops := &stubOps{merge: &proofread.MergeResult{
		Applied:     3,
		Rejected:    1,
		Deferred:    2,
		AppliedText: "the merged article body",
		Conflicts:   []*types.DecisionConflictError{{IssueID: 9, ConflictsWith: 4}},
	}}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/5/finalize",
		token: testToken, operator: "maria",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Applied   int `json:"applied"`
		Rejected  int `json:"rejected"`
		Deferred  int `json:"deferred"`
		Conflicts []struct {
			IssueID       int64 `json:"issue_id"`
			ConflictsWith int64 `json:"conflicts_with"`
		} `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Applied)
	assert.Equal(t, 1, body.Rejected)
	assert.Equal(t, 2, body.Deferred)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, int64(9), body.Conflicts[0].IssueID)

	assert.NotContains(t, rec.Body.String(), "applied_text",
		"finalize reports counts; clients re-read the article for the body")
	assert.Equal(t, "maria", ops.gotActor)
}

func TestPreviewIncludesMergedText(t *testing.T) {
	reviews := &stubReviews{merge: &proofread.MergeResult{Applied: 1, AppliedText: "corrected body text"}}
	h := newTestHandler(t, &stubOps{}, reviews, &stubSecrets{})

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/articles/8/preview", token: testToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "corrected body text")
	assert.Equal(t, []string{"preview"}, reviews.calls)
}

func TestTriggerPublishDefaultsProvider(t *testing.T) {
	ops := &stubOps{task: &types.PublishTask{
		ID: 11, ArticleID: 4, Provider: types.ProviderPlaywright, Status: types.TaskPending,
	}}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{method: http.MethodPost, path: "/api/v1/worklist/3/publish", token: testToken})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, types.Provider(""), ops.gotProvider, "no body means the configured default")

	var body struct {
		ID       int64  `json:"id"`
		Provider string `json:"provider"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(11), body.ID)
	assert.Equal(t, "playwright", body.Provider)
}

func TestTriggerPublishExplicitProvider(t *testing.T) {
	ops := &stubOps{task: &types.PublishTask{ID: 12, Provider: types.ProviderComputerUse, Status: types.TaskPending}}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/3/publish",
		token: testToken, body: map[string]string{"provider": "computer_use"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, types.ProviderComputerUse, ops.gotProvider)
}

func TestTriggerPublishRejectsUnknownProvider(t *testing.T) {
	ops := &stubOps{}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/3/publish",
		token: testToken, body: map[string]string{"provider": "carrier_pigeon"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ops.calls)
}

func TestPublishRulesetAttributesPublisher(t *testing.T) {
	reviews := &stubReviews{rs: &types.RuleSet{ID: 2, Version: 3, Status: types.RulesetPublished, Generation: 5}}
	h := newTestHandler(t, &stubOps{}, reviews, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/rulesets/2/publish",
		token: testToken, operator: "chief-editor",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "chief-editor", reviews.gotPublisher)

	var body struct {
		Status     string `json:"status"`
		Generation int    `json:"generation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "published", body.Status)
	assert.Equal(t, 5, body.Generation)
}

func TestQualityReportRebuildSwitch(t *testing.T) {
	reviews := &stubReviews{report: &proofread.QualityReport{Generation: 3}}
	h := newTestHandler(t, &stubOps{}, reviews, &stubSecrets{})

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/reports/rule-quality", token: testToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"latest_report"}, reviews.calls)

	reviews.calls = nil
	rec = do(t, h, request{method: http.MethodGet, path: "/api/v1/reports/rule-quality?rebuild=true", token: testToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"build_report"}, reviews.calls)
}

func TestCredentialListCarriesNamesOnly(t *testing.T) {
	h := newTestHandler(t, &stubOps{}, &stubReviews{}, &stubSecrets{keys: []string{"cms_password", "cms_username"}})

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/credentials", token: testToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys": ["cms_password", "cms_username"]}`, rec.Body.String())
}

func TestActorDefaultsWhenHeaderAbsent(t *testing.T) {
	ops := &stubOps{}
	h := newTestHandler(t, ops, &stubReviews{}, &stubSecrets{})

	rec := do(t, h, request{
		method: http.MethodPost, path: "/api/v1/worklist/2/advance",
		token: testToken, body: map[string]string{"to": "parsing"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "operator", ops.gotActor)
}

func TestStatusForUnwrapsNestedErrors(t *testing.T) {
	err := fmt.Errorf("finalize: %w", fmt.Errorf("decisions moved: %w", types.ErrStaleState))
	assert.Equal(t, http.StatusConflict, statusFor(err))

	err = fmt.Errorf("lane: %w", types.ErrBusy)
	assert.Equal(t, http.StatusTooManyRequests, statusFor(err))
}
