package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-twofa/auth"
	"github.com/tendant/simple-twofa/pkg/ratelimit"
	"github.com/tendant/simple-twofa/pkg/twofa"
	"github.com/tendant/simple-twofa/pkg/user"
)

type testServer struct {
	handle  *Handle
	router  http.Handler
	jwt     *auth.Jwt
	users   *user.InMemDirectory
	devices *twofa.InMemDeviceRepository
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	jwtSvc := auth.NewJwtServiceOptions("test-secret")
	users := user.NewInMemDirectory()
	devices := twofa.NewInMemDeviceRepository()
	svc := twofa.NewService(devices, twofa.NewInMemSessionStore(time.Minute), users,
		twofa.WithLoginFinalizer(jwtSvc),
		twofa.WithSetupTokenSigner(jwtSvc),
	)
	h := NewHandle(svc, jwtSvc, append([]Option{WithSessionTTL(time.Minute)}, opts...)...)
	return &testServer{handle: h, router: TwoFaHandler(h), jwt: jwtSvc, users: users, devices: devices}
}

func (s *testServer) accessToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := s.jwt.CreateAccessToken(userID)
	require.NoError(t, err)
	return token.Token
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(c)
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), rr.Body.String())
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// enroll runs the TOTP setup and backup code confirmation for userID and
// returns the TOTP secret and the backup codes.
func (s *testServer) enroll(t *testing.T, userID uuid.UUID) (string, string, []string) {
	t.Helper()
	token := s.accessToken(t, userID)

	rr := s.do(t, http.MethodPost, "/setup/totp", nil, bearer(token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var setup TOTPSetupResponse
	decode(t, rr, &setup)
	assert.NotEmpty(t, setup.QRCodePNG)
	assert.Contains(t, setup.URI, "otpauth://totp/")

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	rr = s.do(t, http.MethodPost, "/setup/totp/confirm", ConfirmTOTPRequest{SetupToken: setup.SetupToken, Response: code}, bearer(token))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var confirmed SetupResultResponse
	decode(t, rr, &confirmed)
	assert.Equal(t, "totp", confirmed.Device.Kind)
	require.NotEmpty(t, confirmed.BackupDeviceID)

	rr = s.do(t, http.MethodGet, "/setup/backup/"+confirmed.BackupDeviceID, nil, bearer(token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var backup BackupCodesResponse
	decode(t, rr, &backup)
	require.Len(t, backup.Codes, twofa.DefaultBackupCodeCount)

	rr = s.do(t, http.MethodPost, "/setup/backup/"+confirmed.BackupDeviceID, nil, bearer(token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	return setup.Secret, confirmed.BackupDeviceID, backup.Codes
}

func (s *testServer) startVerification(t *testing.T, userID uuid.UUID) *http.Cookie {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	opened, err := s.handle.StartVerification(rr, req, userID)
	require.NoError(t, err)
	require.True(t, opened)
	cookie := findCookie(rr, SESSION_TOKEN_NAME)
	require.NotNil(t, cookie)
	return cookie
}

func TestEnrollAndVerify(t *testing.T) {
	s := newTestServer(t)
	u, err := s.users.CreateUser(context.Background(), "alice")
	require.NoError(t, err)

	_, backupID, codes := s.enroll(t, u.ID)

	got, err := s.users.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, got.TwoFAEnabled)

	session := s.startVerification(t, u.ID)

	t.Run("ChallengeSelectsTOTP", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/verify", nil, withCookie(session))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp ChallengeResponse
		decode(t, rr, &resp)
		assert.Equal(t, string(twofa.StateAwaitingCode), resp.State)
		require.NotNil(t, resp.Device)
		assert.Equal(t, "totp", resp.Device.Kind)
		require.Len(t, resp.OtherDevices, 1)
		assert.Equal(t, backupID, resp.OtherDevices[0].ID)
	})

	t.Run("WrongCodeIsGeneric", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/verify/"+backupID, VerifyRequest{Response: "zzzzzzzz"}, withCookie(session))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		var resp ErrorResponse
		decode(t, rr, &resp)
		assert.Equal(t, "VERIFICATION_FAILED", resp.Code)
		assert.Equal(t, "That code could not be verified.", resp.Message)
	})

	t.Run("BackupCodeLogsIn", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/verify/"+backupID, VerifyRequest{Response: codes[0]}, withCookie(session))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp ChallengeResponse
		decode(t, rr, &resp)
		assert.Equal(t, string(twofa.StateVerified), resp.State)
		assert.NotEmpty(t, resp.AccessToken)

		cookie := findCookie(rr, ACCESS_TOKEN_NAME)
		require.NotNil(t, cookie)
		assert.Equal(t, resp.AccessToken, cookie.Value)

		claims, err := s.jwt.ParseAccessToken(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, u.ID.String(), claims.Subject)
	})

	t.Run("SessionIsGone", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/verify", nil, withCookie(session))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("ListShowsRemainingCodes", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/", nil, bearer(s.accessToken(t, u.ID)))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp DeviceListResponse
		decode(t, rr, &resp)
		require.Len(t, resp.Devices, 2)
		assert.False(t, resp.CanSetupTOTP)
		for _, d := range resp.Devices {
			if d.ID == backupID {
				assert.Equal(t, "9 codes remaining", d.ExtraInfo)
				assert.True(t, d.CanRegenerate)
			}
		}
	})
}

func TestVerifyWithoutSession(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/verify", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVerifyAlreadyAuthenticated(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/verify", nil, bearer(s.accessToken(t, uuid.New())))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var resp ErrorResponse
	decode(t, rr, &resp)
	assert.Equal(t, "already authenticated", resp.Message)
}

func TestStartVerificationWithout2FA(t *testing.T) {
	s := newTestServer(t)
	u, err := s.users.CreateUser(context.Background(), "bob")
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	opened, err := s.handle.StartVerification(rr, httptest.NewRequest(http.MethodPost, "/login", nil), u.ID)
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Nil(t, findCookie(rr, SESSION_TOKEN_NAME))
}

func TestAuthenticatedRoutes(t *testing.T) {
	s := newTestServer(t)

	t.Run("MissingToken", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("SetupTokenIsNotAccess", func(t *testing.T) {
		setup, err := s.jwt.SignSetupToken(uuid.New(), "JBSWY3DPEHPK3PXP")
		require.NoError(t, err)
		rr := s.do(t, http.MethodGet, "/", nil, bearer(setup))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("OtherIssuer", func(t *testing.T) {
		other := auth.NewJwtServiceOptions("test-secret", auth.WithIssuer("someone-else"))
		token, err := other.CreateAccessToken(uuid.New())
		require.NoError(t, err)
		rr := s.do(t, http.MethodGet, "/", nil, bearer(token.Token))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("OtherAudience", func(t *testing.T) {
		other := auth.NewJwtServiceOptions("test-secret", auth.WithAudience("another-app"))
		token, err := other.CreateAccessToken(uuid.New())
		require.NoError(t, err)
		rr := s.do(t, http.MethodGet, "/", nil, bearer(token.Token))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		_, err = s.jwt.ParseAccessToken(token.Token)
		assert.Error(t, err, "both token paths reject a foreign audience")
	})

	t.Run("AccessCookie", func(t *testing.T) {
		u, err := s.users.CreateUser(context.Background(), "carol")
		require.NoError(t, err)
		rr := s.do(t, http.MethodGet, "/", nil, withCookie(&http.Cookie{Name: ACCESS_TOKEN_NAME, Value: s.accessToken(t, u.ID)}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp DeviceListResponse
		decode(t, rr, &resp)
		assert.Empty(t, resp.Devices)
		assert.True(t, resp.CanSetupTOTP)
	})
}

func TestConfirmTOTPBadBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/setup/totp/confirm", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+s.accessToken(t, uuid.New()))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRemoveAndRegenerate(t *testing.T) {
	s := newTestServer(t)
	u, err := s.users.CreateUser(context.Background(), "dave")
	require.NoError(t, err)
	_, backupID, _ := s.enroll(t, u.ID)
	token := s.accessToken(t, u.ID)

	t.Run("BackupCannotBeRemoved", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/remove/"+backupID, nil, bearer(token))
		assert.Equal(t, http.StatusConflict, rr.Code)
		var resp ErrorResponse
		decode(t, rr, &resp)
		assert.Equal(t, `The "Backup Codes" authenticator cannot be removed.`, resp.Message)
	})

	t.Run("Regenerate", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/regenerate/"+backupID, nil, bearer(token))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var resp DeviceResponse
		decode(t, rr, &resp)
		assert.NotEqual(t, backupID, resp.ID)

		rr = s.do(t, http.MethodGet, "/setup/backup/"+resp.ID, nil, bearer(token))
		require.Equal(t, http.StatusOK, rr.Code)
		rr = s.do(t, http.MethodPost, "/setup/backup/"+resp.ID, nil, bearer(token))
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("RemoveTOTPDisables2FA", func(t *testing.T) {
		devices, err := s.devices.ActiveDevices(context.Background(), u.ID)
		require.NoError(t, err)
		var totpID string
		for _, d := range devices {
			if d.Kind == twofa.DeviceKindTOTP {
				totpID = d.ID.String()
			}
		}
		require.NotEmpty(t, totpID)

		rr := s.do(t, http.MethodPost, "/remove/"+totpID, nil, bearer(token))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp RemoveResponse
		decode(t, rr, &resp)
		assert.True(t, resp.TwoFADisabled)
		assert.NotEmpty(t, resp.Notice)

		got, err := s.users.GetUser(context.Background(), u.ID)
		require.NoError(t, err)
		assert.False(t, got.TwoFAEnabled)
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/remove/"+uuid.NewString(), nil, bearer(token))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestVerifyRateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(2, 1.0/60.0, time.Minute)
	s := newTestServer(t, WithVerifyLimit(ratelimit.NewMiddleware(limiter, ratelimit.ByCookie(SESSION_TOKEN_NAME))))
	u, err := s.users.CreateUser(context.Background(), "erin")
	require.NoError(t, err)
	_, backupID, _ := s.enroll(t, u.ID)
	session := s.startVerification(t, u.ID)

	for i := 0; i < 2; i++ {
		rr := s.do(t, http.MethodPost, "/verify/"+backupID, VerifyRequest{Response: "zzzzzzzz"}, withCookie(session))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := s.do(t, http.MethodPost, "/verify/"+backupID, VerifyRequest{Response: "zzzzzzzz"}, withCookie(session))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = s.do(t, http.MethodGet, "/verify", nil, withCookie(session))
	assert.Equal(t, http.StatusOK, rr.Code, "challenges are not throttled")
}
