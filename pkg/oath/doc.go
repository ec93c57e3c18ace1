// Package oath implements the HOTP (RFC 4226) and TOTP (RFC 6238) one-time
// password algorithms.
//
// The package is pure: it performs no I/O and holds no state beyond the
// values passed in. A TOTP value carries the drift learned from previous
// verifications so callers can persist it and restore it on the next attempt.
//
// # HOTP
//
//	code := oath.HOTP([]byte("12345678901234567890"), 0) // 755224
//	fmt.Println(oath.FormatCode(code))                   // "755224"
//
// # TOTP
//
//	key, err := oath.DecodeSecret(device.Base32Secret)
//	if err != nil {
//		return err // malformed secret, never retried
//	}
//	verifier := oath.NewTOTP(key, oath.WithDrift(device.Drift))
//	verifier.SetTime(time.Now()) // lock the clock for the whole attempt
//	if verifier.Verify(code, 1, device.LastCounter+1) {
//		device.LastCounter = verifier.T()
//		device.Drift = verifier.Drift
//	}
//
// Verify searches counters centre-out (t, t-1, t+1, t-2, t+2, ...) and only
// considers counters at or above the replay floor passed by the caller.
package oath
