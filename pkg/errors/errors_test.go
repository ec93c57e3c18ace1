package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCodeNotFound, "device not found")
	assert.Equal(t, "NOT_FOUND: device not found", err.Error())

	wrapped := Wrap(fmt.Errorf("bad base32"), ErrCodeConfiguration, "invalid secret")
	assert.Equal(t, "CONFIGURATION_ERROR: invalid secret: bad base32", wrapped.Error())
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("verify: %w", VerificationFailed("That code could not be verified."))
	assert.True(t, IsCode(err, ErrCodeVerificationFailed))
	assert.False(t, IsCode(err, ErrCodeNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeNotFound))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodePolicy, GetCode(Policy("cannot be removed")))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("connection refused")))
}

func TestUnwrap(t *testing.T) {
	base := errors.New("base32 decode")
	err := Configuration("invalid secret", base)
	assert.ErrorIs(t, err, base)
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "device not found", PublicMessage(NotFound("device")))
	assert.Equal(t, "internal error", PublicMessage(Configuration("secret", errors.New("x"))))
	assert.Equal(t, "internal error", PublicMessage(errors.New("pool closed")))
}

func TestWithDetail(t *testing.T) {
	err := NotFound("device").WithDetail("device_id", "abc")
	assert.Equal(t, "abc", err.Details["device_id"])
	assert.Equal(t, "device", err.Details["resource"])
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("remove: %w", Policy(`The "Backup Codes" authenticator cannot be removed.`))
	assert.True(t, errors.Is(err, New(ErrCodePolicy, "")))
	assert.False(t, errors.Is(err, New(ErrCodeNotFound, "")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("verify: %w", Configuration("invalid secret", nil))))
	assert.False(t, IsFatal(VerificationFailed("That code could not be verified.")))
	assert.False(t, IsFatal(nil))
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeVerificationFailed, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodePolicy, http.StatusConflict},
		{ErrCodeConfiguration, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorCodeToHTTPStatus(tt.code))
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatusCode())
		})
	}
}
