package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// OTPIssuer is the issuer label embedded in generated TOTP secrets.
const OTPIssuer = "gannportal"

// OTP issues and checks email verification codes. Each challenge gets its
// own random TOTP secret; the 6-digit code is derived from the secret and
// never stored. The period equals the challenge TTL so one code spans the
// whole validity window, with one period of skew allowed for clock drift
// and delivery delay.
type OTP struct {
	period uint
}

// NewOTP creates an OTP helper whose codes rotate every ttl.
func NewOTP(ttl time.Duration) *OTP {
	period := uint(ttl.Seconds())
	if period == 0 {
		period = 600
	}
	return &OTP{period: period}
}

func (o *OTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    o.period,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// NewSecret generates a fresh random secret for one challenge, bound to
// the account's email for diagnostics.
func (o *OTP) NewSecret(accountEmail string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      OTPIssuer,
		AccountName: accountEmail,
		Period:      o.period,
	})
	if err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	return key.Secret(), nil
}

// Code derives the 6-digit code for a secret at the given time. This is
// what gets emailed to the user.
func (o *OTP) Code(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, o.opts())
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return code, nil
}

// Verify reports whether code is valid for the secret at the given time.
func (o *OTP) Verify(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, o.opts())
	return err == nil && ok
}
