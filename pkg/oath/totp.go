package oath

import (
	"time"
)

// DefaultStep is the default TOTP time step.
const DefaultStep = 30 * time.Second

// TOTP is a time-based HOTP generator and verifier.
//
// Drift is the learned offset, in steps, between the server clock and the
// authenticator. It is updated by a successful Verify and must be persisted
// by the caller.
type TOTP struct {
	Key   []byte
	Step  time.Duration
	T0    time.Time
	Drift int64

	now   time.Time
	fixed bool

	// hotp is HOTP except in tests
	hotp func(key []byte, counter int64) int
}

// Option configures a TOTP.
type Option func(*TOTP)

// WithStep overrides the 30 second default time step.
func WithStep(step time.Duration) Option {
	return func(t *TOTP) {
		t.Step = step
	}
}

// WithT0 overrides the Unix epoch as the start of counting.
func WithT0(t0 time.Time) Option {
	return func(t *TOTP) {
		t.T0 = t0
	}
}

// WithDrift restores a previously learned drift.
func WithDrift(drift int64) Option {
	return func(t *TOTP) {
		t.Drift = drift
	}
}

// NewTOTP creates a TOTP for key with a 30 second step starting at the Unix
// epoch.
func NewTOTP(key []byte, opts ...Option) *TOTP {
	t := &TOTP{
		Key:  key,
		Step: DefaultStep,
		T0:   time.Unix(0, 0),
		hotp: HOTP,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetTime pins the clock used by T, Token and Verify.
func (t *TOTP) SetTime(now time.Time) {
	t.now = now
	t.fixed = true
}

// ClearTime returns to the wall clock.
func (t *TOTP) ClearTime() {
	t.now = time.Time{}
	t.fixed = false
}

// Time returns the clock value in use.
func (t *TOTP) Time() time.Time {
	if t.fixed {
		return t.now
	}
	return time.Now()
}

// base is the counter for the current time ignoring drift.
func (t *TOTP) base() int64 {
	elapsed := t.Time().Sub(t.T0)
	step := t.Step
	if step <= 0 {
		step = DefaultStep
	}
	n := int64(elapsed / step)
	// floor for instants before T0
	if elapsed < 0 && elapsed%step != 0 {
		n--
	}
	return n
}

// T returns the drift-corrected counter for the current time.
func (t *TOTP) T() int64 {
	return t.base() + t.Drift
}

// Token returns the code for the current counter.
func (t *TOTP) Token() int {
	return t.generate(t.T())
}

func (t *TOTP) generate(counter int64) int {
	if t.hotp == nil {
		return HOTP(t.Key, counter)
	}
	return t.hotp(t.Key, counter)
}

// Verify checks code against counters within tolerance steps of T, searching
// centre-out and preferring the counter closest to T (the earlier one on a
// tie). Counters below minT or below zero are never considered. On a match
// Drift is updated so that T returns the matched counter.
func (t *TOTP) Verify(code int, tolerance int, minT int64) bool {
	base := t.base()
	centre := base + t.Drift
	for _, candidate := range Window(centre, tolerance) {
		if candidate < minT || candidate < 0 {
			continue
		}
		if t.generate(candidate) == code {
			t.Drift = candidate - base
			return true
		}
	}
	return false
}

// VerifyCode is Verify for a submitted string. Malformed input never matches.
func (t *TOTP) VerifyCode(code string, tolerance int, minT int64) bool {
	n, ok := ParseCode(code)
	if !ok {
		return false
	}
	return t.Verify(n, tolerance, minT)
}

// Window lists the counters searched around centre, in search order.
func Window(centre int64, tolerance int) []int64 {
	if tolerance < 0 {
		tolerance = 0
	}
	out := make([]int64, 0, 2*tolerance+1)
	out = append(out, centre)
	for i := 1; i <= tolerance; i++ {
		out = append(out, centre-int64(i), centre+int64(i))
	}
	return out
}
