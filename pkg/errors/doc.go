// Package errors provides structured errors with codes for the 2FA service.
//
// Every error surfaced by the verification core is either one of the coded
// errors below or a storage error passed through unchanged.
//
//	err := errors.VerificationFailed("That code could not be verified.")
//	if errors.IsCode(err, errors.ErrCodeVerificationFailed) {
//		// re-prompt
//	}
//
// Codes and their HTTP mapping:
//
//   - ErrCodeConfiguration (500): malformed secret or key material. Never retried.
//   - ErrCodeVerificationFailed (401): wrong, used or replayed code. The
//     message is always generic.
//   - ErrCodeNotFound (404): device or verification session not resolvable for
//     the caller.
//   - ErrCodePolicy (409): operation not allowed for the device type.
//   - ErrCodeInvalidInput (400), ErrCodeUnauthorized (401): transport level.
//   - ErrCodeInternal (500): anything else.
package errors
