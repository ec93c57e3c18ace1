package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-twofa/auth"
	errs "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/ratelimit"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

const (
	ACCESS_TOKEN_NAME  = "access_token"
	SESSION_TOKEN_NAME = "twofa_session"
)

type contextKey string

const userIDKey contextKey = "twofa_user_id"

// TwoFaHandler returns a http.Handler for twofa API
func TwoFaHandler(h *Handle) http.Handler {
	r := chi.NewRouter()
	ja := h.jwt.JWTAuth()

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verify(ja, jwtauth.TokenFromHeader, TokenFromCookie))

		r.Get("/verify", h.GetVerify)
		r.Get("/verify/{deviceID}", h.GetVerify)
		var limits []func(http.Handler) http.Handler
		if h.verifyLimit != nil {
			limits = append(limits, h.verifyLimit.Handler)
		}
		r.With(limits...).Post("/verify", h.PostVerify)
		r.With(limits...).Post("/verify/{deviceID}", h.PostVerify)
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verify(ja, jwtauth.TokenFromHeader, TokenFromCookie))
		r.Use(jwtauth.Authenticator(ja))
		r.Use(h.AccessTokenOnly)

		r.Get("/", h.GetDevices)
		r.Post("/setup/totp", h.PostSetupTOTP)
		r.Post("/setup/totp/confirm", h.PostConfirmTOTP)
		r.Get("/setup/backup/{deviceID}", h.GetBackupCodes)
		r.Post("/setup/backup/{deviceID}", h.PostActivateBackup)
		r.Post("/remove/{deviceID}", h.PostRemove)
		r.Post("/regenerate/{deviceID}", h.PostRegenerate)
	})

	return r
}

type Handle struct {
	twoFaService  *twofa.Service
	jwt           *auth.Jwt
	sessionCookie string
	sessionTTL    time.Duration
	verifyLimit   *ratelimit.Middleware
}

type Option func(*Handle)

func WithSessionCookie(name string) Option {
	return func(h *Handle) {
		h.sessionCookie = name
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(h *Handle) {
		h.sessionTTL = ttl
	}
}

// WithVerifyLimit throttles code submissions per verification session.
func WithVerifyLimit(m *ratelimit.Middleware) Option {
	return func(h *Handle) {
		h.verifyLimit = m
	}
}

// NewHandle creates a new Handle
func NewHandle(twoFaService *twofa.Service, jwt *auth.Jwt, opts ...Option) *Handle {
	h := &Handle{
		twoFaService:  twoFaService,
		jwt:           jwt,
		sessionCookie: SESSION_TOKEN_NAME,
		sessionTTL:    twofa.DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(ACCESS_TOKEN_NAME)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// AccessTokenOnly rejects tokens that are not access tokens of this issuer
// and audience, and stores the authenticated user id in the request context.
func (h *Handle) AccessTokenOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.accessTokenUser(r)
		if !ok {
			renderError(w, r, errs.Unauthorized("invalid access token"))
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handle) accessTokenUser(r *http.Request) (uuid.UUID, bool) {
	token, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || token == nil {
		return uuid.Nil, false
	}
	if tokenType, _ := claims["token_type"].(string); tokenType != auth.TokenTypeAccess {
		return uuid.Nil, false
	}
	if token.Issuer() != h.jwt.Issuer {
		return uuid.Nil, false
	}
	if h.jwt.Audience != "" && !slices.Contains(token.Audience(), h.jwt.Audience) {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(token.Subject())
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

func userIDFromContext(ctx context.Context) uuid.UUID {
	userID, _ := ctx.Value(userIDKey).(uuid.UUID)
	return userID
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.MapErrorCodeToHTTPStatus(errs.GetCode(err))
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Code:    string(errs.GetCode(err)),
		Message: errs.PublicMessage(err),
	})
}

func (h *Handle) setAccessTokenCookie(w http.ResponseWriter, token twofa.LoginToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     ACCESS_TOKEN_NAME,
		Path:     "/",
		Value:    token.AccessToken,
		Expires:  token.ExpiresAt,
		HttpOnly: h.jwt.CookieHttpOnly,
		Secure:   h.jwt.CookieSecure,
		SameSite: h.jwt.CookieSameSite,
	})
}

func (h *Handle) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionCookie,
		Path:     "/",
		Value:    value,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.jwt.CookieSecure,
		SameSite: h.jwt.CookieSameSite,
	})
}

func (h *Handle) sessionKey(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// StartVerification is called by the login layer once the password of userID
// has been accepted. It opens a verification session and sets its cookie. It
// returns false when the user has no 2FA and the login can be finalized
// directly.
func (h *Handle) StartVerification(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (bool, error) {
	key, err := twofa.NewSessionKey()
	if err != nil {
		return false, err
	}
	opened, err := h.twoFaService.OpenVerification(r.Context(), key, userID)
	if err != nil || !opened {
		return false, err
	}
	h.setSessionCookie(w, key, int(h.sessionTTL.Seconds()))
	return true, nil
}

func (h *Handle) alreadyAuthenticated(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := h.accessTokenUser(r); ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: string(errs.ErrCodeInvalidInput), Message: "already authenticated"})
		return true
	}
	return false
}

func (h *Handle) renderChallenge(w http.ResponseWriter, r *http.Request, res twofa.ChallengeResult) {
	if res.State == twofa.StateVerified {
		h.setAccessTokenCookie(w, res.Token)
		h.setSessionCookie(w, "", -1)
	}
	render.JSON(w, r, toChallengeResponse(res))
}

// Resolve the device to verify against
// (GET /verify/{deviceID})
func (h *Handle) GetVerify(w http.ResponseWriter, r *http.Request) {
	if h.alreadyAuthenticated(w, r) {
		return
	}
	res, err := h.twoFaService.Challenge(r.Context(), h.sessionKey(r), chi.URLParam(r, "deviceID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	h.renderChallenge(w, r, res)
}

// Submit a code
// (POST /verify/{deviceID})
func (h *Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	if h.alreadyAuthenticated(w, r) {
		return
	}
	data := VerifyRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, errs.InvalidInput("body", "unable to parse body"))
		return
	}

	res, err := h.twoFaService.Verify(r.Context(), h.sessionKey(r), chi.URLParam(r, "deviceID"), data.Response)
	if err != nil {
		renderError(w, r, err)
		return
	}
	h.renderChallenge(w, r, res)
}

// List the active devices
// (GET /)
func (h *Handle) GetDevices(w http.ResponseWriter, r *http.Request) {
	list, err := h.twoFaService.ListDevices(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	resp := DeviceListResponse{
		Devices:      make([]DeviceResponse, 0, len(list.Devices)),
		CanSetupTOTP: list.CanSetupTOTP,
	}
	for _, info := range list.Devices {
		resp.Devices = append(resp.Devices, toDeviceInfoResponse(info))
	}
	render.JSON(w, r, resp)
}

// Start enrolling an authenticator app
// (POST /setup/totp)
func (h *Handle) PostSetupTOTP(w http.ResponseWriter, r *http.Request) {
	setup, err := h.twoFaService.BeginTOTPSetup(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toTOTPSetupResponse(setup))
}

// Confirm the authenticator app with its first code
// (POST /setup/totp/confirm)
func (h *Handle) PostConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	data := ConfirmTOTPRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, errs.InvalidInput("body", "unable to parse body"))
		return
	}

	res, err := h.twoFaService.ConfirmTOTPSetup(r.Context(), userID, data.SetupToken, data.Response)
	if err != nil {
		if errors.Is(err, twofa.ErrSetupTokenExpired) {
			h.renderExpiredSetup(w, r, userID, err)
			return
		}
		renderError(w, r, err)
		return
	}

	resp := SetupResultResponse{Device: toDeviceResponse(res.Device)}
	if res.BackupDevice != nil {
		resp.BackupDeviceID = res.BackupDevice.ID.String()
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// renderExpiredSetup answers an expired enrollment with a fresh secret.
func (h *Handle) renderExpiredSetup(w http.ResponseWriter, r *http.Request, userID uuid.UUID, cause error) {
	resp := ExpiredSetupResponse{
		ErrorResponse: ErrorResponse{
			Code:    string(errs.GetCode(cause)),
			Message: errs.PublicMessage(cause),
		},
	}
	setup, err := h.twoFaService.BeginTOTPSetup(r.Context(), userID)
	if err != nil {
		slog.Warn("Failed to restart totp setup", "userID", userID, "error", err)
	} else {
		s := toTOTPSetupResponse(setup)
		resp.Setup = &s
	}
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, resp)
}

// Show a pending batch of backup codes
// (GET /setup/backup/{deviceID})
func (h *Handle) GetBackupCodes(w http.ResponseWriter, r *http.Request) {
	d, codes, err := h.twoFaService.PendingBackupCodes(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "deviceID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	resp := BackupCodesResponse{Device: toDeviceResponse(d), Codes: make([]string, 0, len(codes))}
	for _, c := range codes {
		resp.Codes = append(resp.Codes, c.Code)
	}
	render.JSON(w, r, resp)
}

// Confirm the backup codes were saved
// (POST /setup/backup/{deviceID})
func (h *Handle) PostActivateBackup(w http.ResponseWriter, r *http.Request) {
	d, err := h.twoFaService.ActivateBackupDevice(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "deviceID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toDeviceResponse(d))
}

// Remove a device
// (POST /remove/{deviceID})
func (h *Handle) PostRemove(w http.ResponseWriter, r *http.Request) {
	res, err := h.twoFaService.Remove(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "deviceID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, RemoveResponse{
		Device:        toDeviceResponse(res.Device),
		TwoFADisabled: res.TwoFADisabled,
		Notice:        res.Notice,
	})
}

// Replace the backup codes
// (POST /regenerate/{deviceID})
func (h *Handle) PostRegenerate(w http.ResponseWriter, r *http.Request) {
	d, err := h.twoFaService.Regenerate(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "deviceID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toDeviceResponse(d))
}
