package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"dahabpos/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", res.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	owner := login(t, h, "owner", "owner123")

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/v1/manage/branches", strings.NewReader(`{"name":"Jahra"}`))
		if method == http.MethodDelete {
			req = httptest.NewRequest(method, "/api/v1/manage/branches/br-salmiya", nil)
		}
		req.Header.Set("Authorization", "Bearer "+owner)
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()

		h.ServeHTTP(res, req)

		if res.Code != http.StatusForbidden {
			t.Fatalf("%s without csrf token: expected 403, got %d", method, res.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/manage/branches", strings.NewReader(`{"name":"Jahra"}`))
	req.Header.Set("Authorization", "Bearer "+owner)
	req.Header.Set("X-CSRF-Token", strings.Repeat("0", 64))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("forged csrf token: expected 403, got %d", res.Code)
	}
}

func TestCSRFTokenEndpointRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !api.validateCSRFToken(body["csrf_token"]) {
		t.Fatalf("issued csrf token does not validate")
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	api := newTestAPI(t)
	res := httptest.NewRecorder()

	api.writeFailure(res, errors.New("pq: relation \"invoices\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.NotContains(t, res.Body.String(), "invoices")
}

func TestStatusForCoversEveryKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrPermissionDenied, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrEmptyCart, http.StatusUnprocessableEntity},
		{domain.ErrDuplicateItem, http.StatusUnprocessableEntity},
		{domain.ErrPaymentMismatch, http.StatusUnprocessableEntity},
		{domain.ErrCustomerRequired, http.StatusUnprocessableEntity},
		{domain.ErrUnpricedItem, http.StatusUnprocessableEntity},
		{domain.ErrItemAlreadySold, http.StatusConflict},
		{domain.ErrBranchNotEmpty, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", domain.ErrConflict), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
