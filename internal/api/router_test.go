package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/vpnaccess/internal/access"
	"github.com/adamscao/vpnaccess/internal/api/middleware"
	"github.com/adamscao/vpnaccess/internal/auth"
	"github.com/adamscao/vpnaccess/internal/config"
	"github.com/adamscao/vpnaccess/internal/logs"
	"github.com/adamscao/vpnaccess/internal/models"
	"github.com/adamscao/vpnaccess/internal/status"
)

const (
	adminToken = "admin-secret"
	hookToken  = "hook-secret"
)

type fakeService struct {
	issueErr    error
	revokeErr   error
	validateErr error

	validated   []string
	historyArgs []int
}

func (f *fakeService) Issue(_ context.Context, userID int64) (*access.IssueResult, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return &access.IssueResult{
		UserID:       userID,
		ClientID:     "user42",
		Profile:      "client\n",
		MFAEnabled:   true,
		Enrollment:   &auth.Enrollment{Secret: "JBSWY3DPEHPK3PXP", URI: "otpauth://totp/x"},
		Instructions: "import it",
	}, nil
}

func (f *fakeService) Revoke(_ context.Context, userID int64) (*access.RevokeResult, error) {
	if f.revokeErr != nil {
		return nil, f.revokeErr
	}
	return &access.RevokeResult{UserID: userID, ClientID: "user42", RevokedAt: time.Now()}, nil
}

func (f *fakeService) ValidateSecondFactor(_ context.Context, userID int64, code, source string) (*models.ConnectionEvent, error) {
	f.validated = append(f.validated, source)
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &models.ConnectionEvent{ID: 1, UserID: userID, SourceAddress: source, EventType: models.EventMFAValidation}, nil
}

func (f *fakeService) ListActive(context.Context) ([]*models.ActiveCredential, error) {
	return []*models.ActiveCredential{{UserID: 42, ClientID: "user42", Name: "Ada"}}, nil
}

func (f *fakeService) History(_ context.Context, userID int64, limit int) ([]*models.ConnectionEvent, error) {
	f.historyArgs = append(f.historyArgs, limit)
	return []*models.ConnectionEvent{}, nil
}

func (f *fakeService) Status(context.Context) *status.Snapshot {
	return status.Empty()
}

func (f *fakeService) RecordConnection(_ context.Context, userID int64, source, eventType string) (*models.ConnectionEvent, error) {
	return &models.ConnectionEvent{ID: 7, UserID: userID, SourceAddress: source, EventType: eventType}, nil
}

func newTestServer(t *testing.T, svc *fakeService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Admin.Token = adminToken
	cfg.Hook.Token = hookToken

	reg := prometheus.NewRegistry()
	reg.MustRegister(status.NewCollector(staticStatus{}))

	return NewServer(cfg, svc, reg, logs.Discard()).Router()
}

type staticStatus struct{}

func (staticStatus) Snapshot(context.Context) *status.Snapshot { return status.Empty() }

func do(t *testing.T, r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var adminHeaders = map[string]string{middleware.AdminTokenHeader: adminToken}

func TestAdminAuth(t *testing.T) {
	r := newTestServer(t, &fakeService{})

	w := do(t, r, http.MethodGet, "/v1/vpn/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/v1/vpn/users", "", map[string]string{middleware.AdminTokenHeader: "nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodGet, "/v1/vpn/users", "", adminHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestGenerateAccess(t *testing.T) {
	r := newTestServer(t, &fakeService{})

	w := do(t, r, http.MethodPost, "/v1/vpn/users/42/generate", "", adminHeaders)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Config     string `json:"config"`
		MFAEnabled bool   `json:"mfa_enabled"`
		Setup      struct {
			URI string `json:"otpauth_url"`
		} `json:"mfa_setup"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "client\n", res.Config)
	assert.True(t, res.MFAEnabled)
	assert.Equal(t, "otpauth://totp/x", res.Setup.URI)

	w = do(t, r, http.MethodPost, "/v1/vpn/users/abc/generate", "", adminHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccessErrorMapping(t *testing.T) {
	tests := []struct {
		kind access.Kind
		code int
	}{
		{access.KindAlreadyActive, http.StatusConflict},
		{access.KindNotFound, http.StatusNotFound},
		{access.KindForbidden, http.StatusForbidden},
		{access.KindIssuerGatewayError, http.StatusBadGateway},
		{access.KindIssuerGatewayTimeout, http.StatusGatewayTimeout},
		{access.KindTemplateError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &fakeService{issueErr: &access.Error{Kind: tt.kind, Message: "nope", Err: assert.AnError}}
			r := newTestServer(t, svc)

			w := do(t, r, http.MethodPost, "/v1/vpn/users/42/generate", "", adminHeaders)
			assert.Equal(t, tt.code, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, string(tt.kind), body["error"])
			assert.Equal(t, "nope", body["message"])
			assert.NotContains(t, w.Body.String(), assert.AnError.Error())
		})
	}
}

func TestRevokeAccess_NoActive(t *testing.T) {
	svc := &fakeService{revokeErr: &access.Error{Kind: access.KindNoActiveAccess, Message: "no active vpn access found for user"}}
	r := newTestServer(t, svc)

	w := do(t, r, http.MethodPut, "/v1/vpn/users/42/revoke", "", adminHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no_active_access")
}

func TestHistory_Limit(t *testing.T) {
	svc := &fakeService{}
	r := newTestServer(t, svc)

	w := do(t, r, http.MethodGet, "/v1/vpn/users/42/history?limit=3", "", adminHeaders)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/v1/vpn/users/42/history", "", adminHeaders)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/v1/vpn/users/42/history?limit=ten", "", adminHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []int{3, 0}, svc.historyArgs)
}

func TestValidateMFA(t *testing.T) {
	svc := &fakeService{}
	r := newTestServer(t, svc)

	w := do(t, r, http.MethodPost, "/v1/vpn/validate-mfa", `{"user_id":42,"token":"123456"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"203.0.113.7"}, svc.validated)

	svc.validateErr = &access.Error{Kind: access.KindInvalidCode, Message: "invalid mfa token"}
	w = do(t, r, http.MethodPost, "/v1/vpn/validate-mfa", `{"user_id":42,"token":"000000"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/v1/vpn/validate-mfa", `{"token":"000000"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordEvent(t *testing.T) {
	r := newTestServer(t, &fakeService{})
	body := `{"user_id":42,"event_type":"connect","source_address":"198.51.100.4"}`

	w := do(t, r, http.MethodPost, "/v1/vpn/events", body, adminHeaders)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "admin token is not a hook token")

	w = do(t, r, http.MethodPost, "/v1/vpn/events", body, map[string]string{middleware.HookTokenHeader: hookToken})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "198.51.100.4")
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestServer(t, &fakeService{})

	w := do(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vpnaccess_connected_clients 0")
}
