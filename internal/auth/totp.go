package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	defaultTOTPIssuer = "VPN Access"

	totpPeriod     = 30
	totpSecretSize = 20 // 160 bits
	totpSkew       = 1  // accept one step either side for clock drift
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Enrollment is the one-time material handed to a user to set up an authenticator
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_url"`
	QRCode string `json:"qr_code,omitempty"`
}

// TOTP generates and verifies time-based one-time codes
type TOTP struct {
	Issuer string
	Now    func() time.Time
}

// NewTOTP creates a TOTP manager for the given issuer name
func NewTOTP(issuer string) *TOTP {
	if issuer == "" {
		issuer = defaultTOTPIssuer
	}
	return &TOTP{Issuer: issuer, Now: time.Now}
}

// GenerateSecret creates a fresh secret and the otpauth:// URI that encodes it
func (t *TOTP) GenerateSecret(account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return &Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// Verify checks a code against the secret at the current time
func (t *TOTP) Verify(code, secret string) bool {
	return t.VerifyAt(code, secret, t.Now())
}

// VerifyAt checks a code against the secret at the given time, accepting the
// adjacent time step on either side. Malformed input yields false.
func (t *TOTP) VerifyAt(code, secret string, at time.Time) bool {
	if code == "" || secret == "" {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, at, totpOpts)
	if err != nil {
		return false
	}

	return valid
}

// GenerateCode returns the code for the secret at the given time
func GenerateCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totpOpts)
}
