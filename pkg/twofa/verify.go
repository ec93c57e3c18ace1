package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-twofa/pkg/oath"
	errs "github.com/tendant/simple-twofa/pkg/errors"
)

// VerificationState is the position of a login attempt in the 2FA flow.
type VerificationState string

const (
	StateNoSession               VerificationState = "NO_SESSION"
	StateAwaitingDeviceSelection VerificationState = "AWAITING_DEVICE_SELECTION"
	StateAwaitingCode            VerificationState = "AWAITING_CODE"
	StateVerified                VerificationState = "VERIFIED"
	StateFailed                  VerificationState = "FAILED"
)

// verificationFailedMessage is the only message a caller ever sees for a
// rejected code.
const verificationFailedMessage = "That code could not be verified."

var errCodeRejected = errors.New("code rejected")

// ChallengeResult describes what the user has to do next.
type ChallengeResult struct {
	State        VerificationState
	UserID       uuid.UUID
	Device       *Device
	OtherDevices []Device
	// Set when State is StateVerified.
	Token        LoginToken
	BackupDevice *Device
}

// VerifyResult is the outcome of submitting a code. On failure State is
// StateFailed and the session remains open for another attempt.
type VerifyResult = ChallengeResult

// OpenVerification starts a verification session for a user whose password
// was accepted. It reports false, storing nothing, when the user does not
// have 2FA enabled and the login can be finalized directly.
func (s *Service) OpenVerification(ctx context.Context, sessionKey string, userID uuid.UUID) (bool, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.TwoFAEnabled {
		return false, nil
	}
	if err := s.sessions.Put(ctx, sessionKey, VerificationSession{TargetUserID: userID}); err != nil {
		return false, fmt.Errorf("failed to open verification session: %w", err)
	}
	slog.Info("Verification session opened", "userID", userID)
	return true, nil
}

func (s *Service) session(ctx context.Context, sessionKey string) (VerificationSession, error) {
	if sessionKey == "" {
		return VerificationSession{}, errs.NotFound("verification session")
	}
	sess, err := s.sessions.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return VerificationSession{}, errs.NotFound("verification session")
		}
		return VerificationSession{}, fmt.Errorf("failed to get verification session: %w", err)
	}
	return sess, nil
}

// Challenge resolves the device a session should verify against. A user with
// no primary device is verified immediately.
func (s *Service) Challenge(ctx context.Context, sessionKey, deviceID string) (ChallengeResult, error) {
	sess, err := s.session(ctx, sessionKey)
	if err != nil {
		return ChallengeResult{State: StateNoSession}, err
	}
	if _, err := s.getUser(ctx, sess.TargetUserID); err != nil {
		return ChallengeResult{State: StateNoSession}, err
	}

	device, others, err := s.GetVerifyDevice(ctx, sess.TargetUserID, deviceID)
	if err != nil {
		return ChallengeResult{State: StateAwaitingDeviceSelection, UserID: sess.TargetUserID}, err
	}
	if device == nil {
		return s.complete(ctx, sessionKey, sess.TargetUserID)
	}

	return ChallengeResult{
		State:        StateAwaitingCode,
		UserID:       sess.TargetUserID,
		Device:       device,
		OtherDevices: others,
	}, nil
}

// Verify checks response against the selected device and finalizes the login
// on success.
func (s *Service) Verify(ctx context.Context, sessionKey, deviceID, response string) (VerifyResult, error) {
	sess, err := s.session(ctx, sessionKey)
	if err != nil {
		return VerifyResult{State: StateNoSession}, err
	}
	if _, err := s.getUser(ctx, sess.TargetUserID); err != nil {
		return VerifyResult{State: StateNoSession}, err
	}

	device, others, err := s.GetVerifyDevice(ctx, sess.TargetUserID, deviceID)
	if err != nil {
		return VerifyResult{State: StateAwaitingDeviceSelection, UserID: sess.TargetUserID}, err
	}
	if device == nil {
		return s.complete(ctx, sessionKey, sess.TargetUserID)
	}

	failed := VerifyResult{
		State:        StateFailed,
		UserID:       sess.TargetUserID,
		Device:       device,
		OtherDevices: others,
	}

	switch device.Kind {
	case DeviceKindTOTP:
		err = s.verifyTOTP(ctx, *device, response)
	case DeviceKindPaper:
		err = s.verifyPaper(ctx, *device, response)
	default:
		err = errs.Configuration(fmt.Sprintf("unknown device kind %q", device.Kind), nil)
	}
	if err != nil {
		return failed, err
	}

	return s.complete(ctx, sessionKey, sess.TargetUserID)
}

func (s *Service) verifyTOTP(ctx context.Context, device Device, response string) error {
	now := s.clock()
	_, err := s.devices.UpdateDeviceLocked(ctx, device.OwnerID, device.ID, func(d *Device) error {
		if d.TOTP == nil {
			return errs.Configuration("totp device has no secret", nil)
		}
		key, err := oath.DecodeSecret(d.TOTP.Base32Secret)
		if err != nil {
			return errs.Configuration("stored totp secret is invalid", err)
		}

		verifier := oath.NewTOTP(key, oath.WithDrift(d.TOTP.Drift))
		verifier.SetTime(now)
		if !verifier.VerifyCode(response, s.totpTolerance, d.TOTP.LastCounter+1) {
			return errCodeRejected
		}

		d.TOTP.LastCounter = verifier.T()
		d.TOTP.Drift = verifier.Drift
		d.LastUsedAt = &now
		return nil
	})
	switch {
	case err == nil:
		slog.Info("TOTP code accepted", "deviceID", device.ID, "userID", device.OwnerID)
		return nil
	case errors.Is(err, errCodeRejected):
		slog.Warn("TOTP code rejected", "deviceID", device.ID, "userID", device.OwnerID)
		return errs.VerificationFailed(verificationFailedMessage)
	case errors.Is(err, ErrDeviceNotFound):
		return errs.NotFound("device")
	case errs.IsFatal(err):
		slog.Error("TOTP device misconfigured", "deviceID", device.ID, "error", err)
		return err
	default:
		return fmt.Errorf("failed to verify totp code: %w", err)
	}
}

func (s *Service) verifyPaper(ctx context.Context, device Device, response string) error {
	err := s.devices.ConsumePaperCode(ctx, device.OwnerID, device.ID, response, s.clock())
	switch {
	case err == nil:
		slog.Info("Backup code accepted", "deviceID", device.ID, "userID", device.OwnerID)
		return nil
	case errors.Is(err, ErrPaperCodeUnknown):
		slog.Warn("Backup code rejected", "deviceID", device.ID, "userID", device.OwnerID, "reason", "unknown")
		return errs.VerificationFailed(verificationFailedMessage)
	case errors.Is(err, ErrPaperCodeUsed):
		slog.Warn("Backup code rejected", "deviceID", device.ID, "userID", device.OwnerID, "reason", "already used")
		return errs.VerificationFailed(verificationFailedMessage)
	case errors.Is(err, ErrDeviceNotFound):
		return errs.NotFound("device")
	default:
		return fmt.Errorf("failed to verify backup code: %w", err)
	}
}

// complete takes the session, finalizes the login and tops up backup codes.
func (s *Service) complete(ctx context.Context, sessionKey string, userID uuid.UUID) (ChallengeResult, error) {
	if _, err := s.sessions.Take(ctx, sessionKey); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ChallengeResult{State: StateNoSession}, errs.NotFound("verification session")
		}
		return ChallengeResult{State: StateNoSession}, fmt.Errorf("failed to close verification session: %w", err)
	}

	result := ChallengeResult{State: StateVerified, UserID: userID}
	if s.finalizer != nil {
		token, err := s.finalizer.FinalizeLogin(ctx, userID)
		if err != nil {
			return ChallengeResult{State: StateNoSession, UserID: userID}, fmt.Errorf("failed to finalize login: %w", err)
		}
		result.Token = token
	}

	backup, err := s.GenerateIfNeeded(ctx, userID)
	if err != nil {
		// The login already went through; the codes are generated on a later login.
		slog.Error("Failed to generate backup codes after login", "userID", userID, "error", err)
	} else {
		result.BackupDevice = backup
	}

	slog.Info("Second factor verified", "userID", userID)
	return result, nil
}
