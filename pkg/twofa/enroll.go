package twofa

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tendant/simple-twofa/pkg/oath"
	errs "github.com/tendant/simple-twofa/pkg/errors"
)

const (
	totpSecretSize = 10
	qrCodeSize     = 200

	multipleTOTPMessage    = "You may not have multiple Google Authenticators attached to your account."
	setupExpiredMessage    = "That took too long and your challenge expired. Here's a new one."
	setupInvalidMessage    = "Whoops - something went wrong. Please try again."
	setupCodeFailedMessage = "That code could not be verified. Please try again."
)

// TOTPSetup is the material shown to a user enrolling an authenticator app.
type TOTPSetup struct {
	Secret     string
	URI        string
	QRCodePNG  string
	SetupToken string
}

type SetupResult struct {
	Device       Device
	BackupDevice *Device
}

func (s *Service) hasActiveTOTP(ctx context.Context, userID uuid.UUID) (bool, error) {
	devices, err := s.devices.ActiveDevices(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.Kind == DeviceKindTOTP {
			return true, nil
		}
	}
	return false, nil
}

// BeginTOTPSetup generates a secret for a new authenticator app and a token
// binding it to the user until the enrollment is confirmed.
func (s *Service) BeginTOTPSetup(ctx context.Context, userID uuid.UUID) (TOTPSetup, error) {
	if s.setupTokens == nil {
		return TOTPSetup{}, fmt.Errorf("setup token signer not configured")
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return TOTPSetup{}, err
	}
	exists, err := s.hasActiveTOTP(ctx, userID)
	if err != nil {
		return TOTPSetup{}, err
	}
	if exists {
		return TOTPSetup{}, errs.Policy(multipleTOTPMessage)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: u.Username,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "userID", userID, "issuer", s.issuer, "error", err)
		return TOTPSetup{}, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("failed to render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return TOTPSetup{}, fmt.Errorf("failed to encode qr code: %w", err)
	}

	token, err := s.setupTokens.SignSetupToken(userID, key.Secret())
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("failed to sign setup token: %w", err)
	}

	return TOTPSetup{
		Secret:     key.Secret(),
		URI:        key.URL(),
		QRCodePNG:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		SetupToken: token,
	}, nil
}

// ConfirmTOTPSetup checks the first code from the new authenticator and, if
// it matches, stores the device and turns 2FA on.
func (s *Service) ConfirmTOTPSetup(ctx context.Context, userID uuid.UUID, setupToken, response string) (SetupResult, error) {
	if s.setupTokens == nil {
		return SetupResult{}, fmt.Errorf("setup token signer not configured")
	}
	claims, err := s.setupTokens.ParseSetupToken(setupToken)
	if err != nil {
		if errors.Is(err, ErrSetupTokenExpired) {
			return SetupResult{}, errs.Wrap(err, errs.ErrCodeUnauthorized, setupExpiredMessage)
		}
		slog.Warn("Invalid totp setup token", "userID", userID, "error", err)
		return SetupResult{}, errs.Unauthorized(setupInvalidMessage)
	}
	if claims.UserID != userID {
		slog.Warn("Totp setup token issued for another user", "userID", userID)
		return SetupResult{}, errs.Unauthorized(setupInvalidMessage)
	}

	if _, err := s.getUser(ctx, userID); err != nil {
		return SetupResult{}, err
	}
	exists, err := s.hasActiveTOTP(ctx, userID)
	if err != nil {
		return SetupResult{}, err
	}
	if exists {
		return SetupResult{}, errs.Policy(multipleTOTPMessage)
	}

	key, err := oath.DecodeSecret(claims.Secret)
	if err != nil {
		return SetupResult{}, errs.Configuration("setup secret is invalid", err)
	}
	verifier := oath.NewTOTP(key)
	verifier.SetTime(s.clock())
	if !verifier.VerifyCode(response, s.totpTolerance, 0) {
		slog.Warn("Totp setup code rejected", "userID", userID)
		return SetupResult{}, errs.VerificationFailed(setupCodeFailedMessage)
	}

	d, err := s.devices.CreateTOTPDevice(ctx, CreateTOTPDeviceParams{
		OwnerID:      userID,
		Base32Secret: oath.EncodeSecret(key),
		LastCounter:  verifier.T(),
		Drift:        verifier.Drift,
		At:           s.clock(),
	})
	if err != nil {
		if errors.Is(err, ErrTOTPDeviceExists) {
			return SetupResult{}, errs.Policy(multipleTOTPMessage)
		}
		return SetupResult{}, fmt.Errorf("failed to store totp device: %w", err)
	}

	if err := s.users.SetTwoFAEnabled(ctx, userID, true); err != nil {
		return SetupResult{Device: d}, fmt.Errorf("failed to enable 2fa: %w", err)
	}
	slog.Info("TOTP device enrolled", "userID", userID, "deviceID", d.ID)

	backup, err := s.GenerateIfNeeded(ctx, userID)
	if err != nil {
		return SetupResult{Device: d}, err
	}
	return SetupResult{Device: d, BackupDevice: backup}, nil
}
