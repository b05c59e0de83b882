package auth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTP_GenerateSecret(t *testing.T) {
	m := NewTOTP("School VPN")

	enr, err := m.GenerateSecret("user42")
	require.NoError(t, err)

	// 20 bytes base32-encoded without padding is 32 characters
	assert.Len(t, enr.Secret, 32)

	u, err := url.Parse(enr.URI)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)
	assert.Equal(t, "totp", u.Host)
	assert.Contains(t, u.Path, "user42")
	assert.Equal(t, enr.Secret, u.Query().Get("secret"))
	assert.Equal(t, "School VPN", u.Query().Get("issuer"))

	other, err := m.GenerateSecret("user42")
	require.NoError(t, err)
	assert.NotEqual(t, enr.Secret, other.Secret)
}

func TestTOTP_VerifyWindow(t *testing.T) {
	m := NewTOTP("")
	enr, err := m.GenerateSecret("user42")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	step := 30 * time.Second

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{name: "current step", offset: 0, want: true},
		{name: "previous step", offset: -step, want: true},
		{name: "next step", offset: step, want: true},
		{name: "two steps back", offset: -2 * step, want: false},
		{name: "two steps ahead", offset: 2 * step, want: false},
		{name: "five steps back", offset: -5 * step, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := GenerateCode(enr.Secret, now.Add(tt.offset))
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.VerifyAt(code, enr.Secret, now))
		})
	}
}

func TestTOTP_VerifyUsesClock(t *testing.T) {
	m := NewTOTP("")
	enr, err := m.GenerateSecret("user42")
	require.NoError(t, err)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return fixed }

	code, err := GenerateCode(enr.Secret, fixed)
	require.NoError(t, err)
	assert.True(t, m.Verify(code, enr.Secret))
}

func TestTOTP_VerifyMalformed(t *testing.T) {
	m := NewTOTP("")
	enr, err := m.GenerateSecret("user42")
	require.NoError(t, err)

	tests := []struct {
		name, code, secret string
	}{
		{name: "empty code", code: "", secret: enr.Secret},
		{name: "empty secret", code: "123456", secret: ""},
		{name: "short code", code: "123", secret: enr.Secret},
		{name: "long code", code: "1234567", secret: enr.Secret},
		{name: "letters", code: "abcdef", secret: enr.Secret},
		{name: "bad secret", code: "123456", secret: "!!not-base32!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, m.Verify(tt.code, tt.secret))
			})
		})
	}
}

func TestEnrollmentQR(t *testing.T) {
	m := NewTOTP("")
	enr, err := m.GenerateSecret("user42")
	require.NoError(t, err)

	img, err := EnrollmentQR(enr.URI)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
	assert.Greater(t, len(img), len("data:image/png;base64,"))
}
