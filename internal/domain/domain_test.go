package domain_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsgateway/internal/domain"
)

func TestPrincipalType(t *testing.T) {
	if domain.PrincipalUser.String() != "user" {
		t.Errorf("expected 'user', got %q", domain.PrincipalUser.String())
	}
	if domain.PrincipalService.String() != "service" {
		t.Errorf("expected 'service', got %q", domain.PrincipalService.String())
	}
	if domain.PrincipalUnknown.String() != "unknown" {
		t.Errorf("expected 'unknown', got %q", domain.PrincipalUnknown.String())
	}
}

func TestPrincipalHasScope(t *testing.T) {
	p := domain.Principal{
		ID:     "user-1",
		Type:   domain.PrincipalUser,
		Scopes: []domain.Scope{domain.ScopeVectorsRead, domain.ScopeFilesRead},
	}

	assert.True(t, p.HasScope(domain.ScopeVectorsRead))
	assert.True(t, p.HasScope(domain.ScopeFilesRead))
	assert.False(t, p.HasScope(domain.ScopeVectorsWrite))
	assert.False(t, p.HasScope(""))
	assert.False(t, domain.Principal{ID: "user-1"}.HasScope("anything"))
}

func TestScopes(t *testing.T) {
	scopes := domain.ParseScopes("  vectors:read\tfiles:write  ")
	assert.Equal(t, []domain.Scope{domain.ScopeVectorsRead, domain.ScopeFilesWrite}, scopes)
	assert.Nil(t, domain.ParseScopes("   "))

	p := domain.Principal{Scopes: scopes}
	assert.Equal(t, "vectors:read files:write", p.ScopeString())
	assert.Empty(t, domain.Principal{}.ScopeString())
}

func TestDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrUnauthorized", domain.ErrUnauthorized, "unauthorized"},
		{"ErrForbidden", domain.ErrForbidden, "forbidden"},
		{"ErrNotFound", domain.ErrNotFound, "not found"},
		{"ErrRateLimited", domain.ErrRateLimited, "rate limited"},
		{"ErrInvalidCredentials", domain.ErrInvalidCredentials, "invalid credentials"},
		{"ErrTokenExpired", domain.ErrTokenExpired, "token expired"},
		{"ErrInvalidToken", domain.ErrInvalidToken, "invalid token"},
		{"ErrKeyNotFound", domain.ErrKeyNotFound, "signing key not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.msg)
		})
	}

	assert.False(t, errors.Is(domain.ErrInvalidCredentials, domain.ErrUnauthorized),
		"sentinels are independent")
}

func TestError(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.7:8082: connection refused")
	err := domain.WrapError(domain.CodeBackendUnavailable, "backend unavailable", cause)

	assert.Equal(t, "backend unavailable: dial tcp 10.0.0.7:8082: connection refused", err.Error())
	assert.Equal(t, "backend unavailable", err.ErrorMessage())
	assert.Equal(t, domain.CodeBackendUnavailable, err.ErrorCode())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("relaying frame: %w", err)
	var coded domain.CodedError
	require.ErrorAs(t, wrapped, &coded)
	assert.Equal(t, domain.CodeBackendUnavailable, coded.ErrorCode())

	plain := domain.NewError(domain.CodeForbidden, "write scope required")
	assert.Equal(t, "write scope required", plain.Error())
	assert.NoError(t, plain.Unwrap())

	var nilErr *domain.Error
	assert.Empty(t, nilErr.Error())
	assert.Empty(t, nilErr.ErrorCode())
}

func TestErrorResponseJSON(t *testing.T) {
	resp := domain.ErrorResponse{RetryAfter: 3}
	resp.AddErrorMessage(domain.CodeRateLimited, "too many requests")

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"errors":[{"code":"GW-RATE-01","message":"too many requests"}],"retry_after":3}`, string(out))
}

func TestAddErrorMessageKeepsOrder(t *testing.T) {
	var resp domain.ErrorResponse
	resp.AddErrorMessage("A", "first")
	resp.AddErrorMessage("B", "second")
	assert.Equal(t, []domain.ErrorMessage{
		{Code: "A", Message: "first"},
		{Code: "B", Message: "second"},
	}, resp.Messages)
}

func TestRelayRequestValidate(t *testing.T) {
	tests := []struct {
		name     string
		req      domain.RelayRequest
		property string
	}{
		{"valid", domain.RelayRequest{Method: "get", Path: "/v1/files"}, ""},
		{"missing method", domain.RelayRequest{Path: "/v1/files"}, "method"},
		{"relative path", domain.RelayRequest{Method: "GET", Path: "v1/files"}, "path"},
		{"unsupported method", domain.RelayRequest{Method: "TRACE", Path: "/v1/files"}, "method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.property == "" {
				assert.NoError(t, err)
				return
			}
			var derr *domain.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.property, derr.Property)
			assert.Equal(t, domain.CodeWebsocketDecoder, derr.Code)
		})
	}
}

func TestRelayRequestIsWrite(t *testing.T) {
	for method, want := range map[string]bool{
		"GET": false, "get": false, "POST": true, "put": true, "PATCH": true, "DELETE": true,
	} {
		assert.Equal(t, want, domain.RelayRequest{Method: method}.IsWrite(), method)
	}
}
