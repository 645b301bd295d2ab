package walletconnect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/walletconnect/walletconnect/core/cryptoops"
)

func TestURIRoundTrip(t *testing.T) {
	key, err := cryptoops.NewSessionKey()
	require.NoError(t, err)

	u := URI{Topic: "2a7f1b0c", Version: ProtocolVersion, Bridge: "wss://bridge.walletconnect.org", Key: key}
	raw := u.String()
	assert.Contains(t, raw, "wc:2a7f1b0c@1?")
	assert.Contains(t, raw, "bridge=https%3A%2F%2Fbridge.walletconnect.org")

	parsed, err := ParseURI(raw)
	require.NoError(t, err)
	assert.Equal(t, u.Topic, parsed.Topic)
	assert.Equal(t, u.Version, parsed.Version)
	assert.Equal(t, "https://bridge.walletconnect.org", parsed.Bridge)
	assert.Equal(t, key, parsed.Key)
}

func TestParseURIRejects(t *testing.T) {
	key := cryptoops.EncodeKey(make([]byte, cryptoops.KeySize))
	tests := []struct {
		name string
		raw  string
	}{
		{"scheme", "http:topic@1?bridge=https://b&key=" + key},
		{"no query", "wc:topic@1"},
		{"no version", "wc:topic?bridge=https://b&key=" + key},
		{"empty topic", "wc:@1?bridge=https://b&key=" + key},
		{"no bridge", "wc:topic@1?key=" + key},
		{"short key", "wc:topic@1?bridge=https://b&key=abcd"},
		{"bad key", "wc:topic@1?bridge=https://b&key=zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURI(tt.raw)
			require.ErrorIs(t, err, ErrInvalidURI)
		})
	}
}
