package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prazos-api/internal/application/account"
	"github.com/prazos-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mock ---

type mockAccountSvc struct{ mock.Mock }

func (m *mockAccountSvc) Register(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	args := m.Called(ctx, req)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountSvc) Login(ctx context.Context, req account.LoginRequest) (*account.LoginResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*account.LoginResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountSvc) CurrentUser(ctx context.Context) (domain.Principal, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Principal), args.Error(1)
}

func (m *mockAccountSvc) Reauthenticate(ctx context.Context, email, secret string) error {
	return m.Called(ctx, email, secret).Error(0)
}

func validRegistration() domain.CreateUserRequest {
	return domain.CreateUserRequest{Email: "ana@example.com", Password: "secret123", Name: "Ana"}
}

// --- Register tests ---

func TestRegister_InvalidBody(t *testing.T) {
	h := NewAccountHandler(&mockAccountSvc{})
	r := httptest.NewRequest(http.MethodPost, "/v1/users", bytes.NewBufferString("not-json"))
	rr := httptest.NewRecorder()
	h.Register(rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_ValidationFailure(t *testing.T) {
	svc := &mockAccountSvc{}
	h := NewAccountHandler(svc)
	body, _ := json.Marshal(domain.CreateUserRequest{Email: "not-an-email"})
	r := httptest.NewRequest(http.MethodPost, "/v1/users", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Register(rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestRegister_ServiceConflict(t *testing.T) {
	svc := &mockAccountSvc{}
	svc.On("Register", mock.Anything, validRegistration()).Return(nil, domain.ErrConflict)
	h := NewAccountHandler(svc)
	body, _ := json.Marshal(validRegistration())
	r := httptest.NewRequest(http.MethodPost, "/v1/users", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Register(rr, r)
	assert.Equal(t, http.StatusConflict, rr.Code)
	svc.AssertExpectations(t)
}

func TestRegister_HappyPath(t *testing.T) {
	svc := &mockAccountSvc{}
	u := &domain.User{UserID: "tenant-1", Email: "ana@example.com", Name: "Ana", PasswordHash: "hash"}
	svc.On("Register", mock.Anything, validRegistration()).Return(u, nil)
	svc.On("Login", mock.Anything, account.LoginRequest{Email: "ana@example.com", Password: "secret123"}).
		Return(&account.LoginResult{Bearer: "access-token", User: u}, nil)
	h := NewAccountHandler(svc)
	body, _ := json.Marshal(validRegistration())
	r := httptest.NewRequest(http.MethodPost, "/v1/users", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Register(rr, r)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hash")
	var resp AuthEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "access-token", resp.Bearer)
	assert.Equal(t, "tenant-1", resp.User.UserID)
	svc.AssertExpectations(t)
}

// --- Login tests ---

func TestLogin_BadCredentials(t *testing.T) {
	svc := &mockAccountSvc{}
	req := account.LoginRequest{Email: "ana@example.com", Password: "wrong"}
	svc.On("Login", mock.Anything, req).Return(nil, errors.Join(errors.New("invalid credentials"), domain.ErrUnauthorized))
	h := NewAccountHandler(svc)
	body, _ := json.Marshal(req)
	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/login", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogin_StoreUnavailable(t *testing.T) {
	svc := &mockAccountSvc{}
	req := account.LoginRequest{Email: "ana@example.com", Password: "secret123"}
	svc.On("Login", mock.Anything, req).Return(nil, domain.ErrUnavailable)
	h := NewAccountHandler(svc)
	body, _ := json.Marshal(req)
	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/login", bytes.NewReader(body)))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestLogin_HappyPath(t *testing.T) {
	svc := &mockAccountSvc{}
	req := account.LoginRequest{Email: "ana@example.com", Password: "secret123"}
	svc.On("Login", mock.Anything, req).Return(&account.LoginResult{Bearer: "tok", User: &domain.User{UserID: "tenant-1"}}, nil)
	h := NewAccountHandler(svc)
	body, _ := json.Marshal(req)
	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/login", bytes.NewReader(body)))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp AuthEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "tok", resp.Bearer)
}

// --- error mapping ---

func TestHTTPError_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", domain.ErrBadRequest, http.StatusBadRequest},
		{"challenge wraps provider error", errors.Join(domain.ErrChallengeFailed, domain.ErrUnavailable), http.StatusForbidden},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"conflict", domain.ErrConflict, http.StatusConflict},
		{"access denied", domain.ErrAccessDenied, http.StatusServiceUnavailable},
		{"unavailable", domain.ErrUnavailable, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			httpError(rr, tc.err)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestHTTPError_AccessDeniedCarriesRemediation(t *testing.T) {
	rr := httptest.NewRecorder()
	httpError(rr, domain.ErrAccessDenied)
	var env MessageEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.Contains(t, env.Error, "permissions")
	assert.Equal(t, http.StatusServiceUnavailable, env.ErrorCode)
}
