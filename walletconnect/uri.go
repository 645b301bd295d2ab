package walletconnect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gosuda.org/walletconnect/utils"
	"gosuda.org/walletconnect/walletconnect/core/cryptoops"
)

// ProtocolVersion is the pairing URI version.
const ProtocolVersion = "1"

var ErrInvalidURI = errors.New("invalid connection uri")

// URI is a parsed pairing URI: wc:{topic}@{version}?bridge={url}&key={hex}.
type URI struct {
	Topic   string
	Version string
	Bridge  string
	Key     []byte
}

// String renders the URI that the wallet scans or receives via deep link.
func (u URI) String() string {
	q := url.Values{}
	q.Set("bridge", utils.BridgeHTTPURL(u.Bridge))
	q.Set("key", cryptoops.EncodeKey(u.Key))
	return fmt.Sprintf("wc:%s@%s?%s", u.Topic, u.Version, q.Encode())
}

// ParseURI parses and validates a pairing URI.
func ParseURI(raw string) (URI, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), "wc:")
	if !ok {
		return URI{}, fmt.Errorf("%w: missing wc: scheme", ErrInvalidURI)
	}
	head, query, ok := strings.Cut(rest, "?")
	if !ok {
		return URI{}, fmt.Errorf("%w: missing query", ErrInvalidURI)
	}
	topic, version, ok := strings.Cut(head, "@")
	if !ok || topic == "" || version == "" {
		return URI{}, fmt.Errorf("%w: expected topic@version", ErrInvalidURI)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	bridge := values.Get("bridge")
	if bridge == "" {
		return URI{}, fmt.Errorf("%w: missing bridge", ErrInvalidURI)
	}
	key, err := cryptoops.DecodeKey(values.Get("key"))
	if err != nil {
		return URI{}, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	return URI{Topic: topic, Version: version, Bridge: bridge, Key: key}, nil
}
