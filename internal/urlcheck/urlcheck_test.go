package urlcheck

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_SafeHTTPS(t *testing.T) {
	assert.NoError(t, Validate("https://example.com", Options{}))
	assert.NoError(t, Validate("https://api.example.com/health?deep=true", Options{}))
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		url    string
		reason string
	}{
		{"plain http", "http://example.com", "scheme"},
		{"ftp scheme", "ftp://example.com", "scheme"},
		{"loopback ipv4", "https://127.0.0.1", "loopback"},
		{"loopback range", "https://127.8.8.8", "loopback"},
		{"localhost", "https://localhost:8080/health", "loopback"},
		{"private 10/8", "https://10.1.2.3", "private"},
		{"private 172.16/12", "https://172.20.0.5", "private"},
		{"private 192.168/16", "https://192.168.1.1", "private"},
		{"metadata endpoint", "https://169.254.169.254/latest/meta-data", "link-local"},
		{"ipv6 loopback", "https://[::1]", "loopback"},
		{"empty host", "https://", "hostname"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.url, Options{})
			require.Error(t, err)

			var unsafeErr *UnsafeTargetError
			require.True(t, errors.As(err, &unsafeErr))
			assert.Contains(t, unsafeErr.Reason, tc.reason)
		})
	}
}

func TestValidate_AllowLocal(t *testing.T) {
	opts := Options{AllowLocal: true}

	assert.NoError(t, Validate("https://127.0.0.1:8080", opts))
	assert.NoError(t, Validate("https://localhost/health", opts))

	// AllowLocal does not open up private or metadata ranges.
	assert.Error(t, Validate("https://10.1.2.3", opts))
	assert.Error(t, Validate("https://169.254.169.254", opts))
}

func TestValidate_DomainAllowList(t *testing.T) {
	opts := Options{AllowedDomains: []string{"api.valine.app", "valine.app"}}

	assert.NoError(t, Validate("https://api.valine.app/health", opts))
	assert.NoError(t, Validate("https://VALINE.APP", opts))

	err := Validate("https://evil.example.com", opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-list")
}

func TestValidate_Unparseable(t *testing.T) {
	err := Validate("https://exa mple.com/%zz", Options{})
	assert.Error(t, err)
}
