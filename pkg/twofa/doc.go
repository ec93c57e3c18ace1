// Package twofa is the second-factor verification engine.
//
// It owns the user's devices (authenticator apps and backup code sheets),
// picks the device a login is verified against, runs the verification
// session between a successful password check and the finalized login, and
// keeps every 2FA user supplied with backup codes.
//
// # Devices
//
// A device is active once it is confirmed and until it is soft-deleted. Only
// active devices satisfy a verification. TOTP devices are confirmed by their
// first code during enrollment; paper devices by ActivateBackupDevice after
// the user has saved the codes.
//
// # Basic Usage
//
//	import "github.com/tendant/simple-twofa/pkg/twofa"
//
//	service := twofa.NewService(
//		twofa.NewInMemDeviceRepository(),
//		twofa.NewInMemSessionStore(15*time.Minute),
//		users,
//		twofa.WithLoginFinalizer(finalizer),
//		twofa.WithSetupTokenSigner(signer),
//	)
//
//	// After the password check
//	pending, err := service.OpenVerification(ctx, sessionKey, userID)
//
//	// Show the form for the default device
//	challenge, err := service.Challenge(ctx, sessionKey, "")
//
//	// Submit the code
//	result, err := service.Verify(ctx, sessionKey, challenge.Device.ID.String(), "123456")
//	if result.State == twofa.StateVerified {
//		// result.Token holds the access token
//	}
//
// # Enrollment
//
//	setup, err := service.BeginTOTPSetup(ctx, userID)
//	// show setup.QRCodePNG, keep setup.SetupToken
//	res, err := service.ConfirmTOTPSetup(ctx, userID, setup.SetupToken, code)
//	// res.BackupDevice lists codes pending activation
package twofa
