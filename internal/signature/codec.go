// Package signature authenticates gateway callbacks with an HMAC-SHA256 over
// the canonical query string of the received fields.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/smallbiznis/paysettle/internal/config"
	"github.com/spf13/cast"
)

// Field is the key carrying the claimed signature. It never takes part in the digest.
const Field = "signature"

var (
	ErrMissingSecret    = errors.New("missing_signing_secret")
	ErrUnsupportedValue = errors.New("unsupported_field_value")
	ErrMissingPurpose   = errors.New("missing_key_purpose")
)

// PurposeCheckoutRedirect keys the fields handed to the browser on initiation.
const PurposeCheckoutRedirect = "paysettle/checkout-redirect"

type Codec struct {
	secret []byte
}

func NewCodec(secret string) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Provide builds the codec from configuration; an empty secret aborts startup.
func Provide(cfg config.Config) (*Codec, error) {
	codec, err := NewCodec(cfg.Payment.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_SIGNING_SECRET: %w", err)
	}
	return codec, nil
}

// Derive returns a codec keyed by HMAC-SHA256(secret, purpose). Its
// signatures never verify under the parent codec, nor the reverse.
func (c *Codec) Derive(purpose string) (*Codec, error) {
	if c == nil || len(c.secret) == 0 {
		return nil, ErrMissingSecret
	}
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return nil, ErrMissingPurpose
	}
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(purpose))
	return &Codec{secret: mac.Sum(nil)}, nil
}

// Compute returns the hex HMAC-SHA256 of the canonical form of fields.
func (c *Codec) Compute(fields map[string]any) (string, error) {
	if c == nil || len(c.secret) == 0 {
		return "", ErrMissingSecret
	}
	canonical, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether fields carry a signature matching the rest of the fields.
// The claimed value is compared byte for byte: lowercase hex, no surrounding space.
// Malformed input yields false.
func (c *Codec) Verify(fields map[string]any) bool {
	if c == nil || len(fields) == 0 {
		return false
	}
	raw, ok := fields[Field]
	if !ok {
		return false
	}
	claimed, err := cast.ToStringE(raw)
	if err != nil {
		return false
	}
	if claimed == "" {
		return false
	}
	expected, err := c.Compute(fields)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(claimed), []byte(expected))
}

// Sign returns a copy of fields with the signature set.
func (c *Codec) Sign(fields map[string]any) (map[string]any, error) {
	sig, err := c.Compute(fields)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if k == Field {
			continue
		}
		out[k] = v
	}
	out[Field] = sig
	return out, nil
}

// Canonicalize sorts keys ascending and joins RFC 3986 encoded pairs with '&'.
func Canonicalize(fields map[string]any) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == Field {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		value, err := scalar(fields[k])
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedValue, k)
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(rawURLEncode(k))
		b.WriteByte('=')
		b.WriteString(rawURLEncode(value))
	}
	return b.String(), nil
}

func scalar(v any) (string, error) {
	switch v.(type) {
	case nil:
		return "", nil
	case map[string]any, []any, []string:
		return "", ErrUnsupportedValue
	}
	return cast.ToStringE(v)
}

// rawURLEncode leaves only unreserved characters unescaped; space becomes %20.
func rawURLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// FromStrings adapts form or query values to the codec's input shape.
func FromStrings(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
