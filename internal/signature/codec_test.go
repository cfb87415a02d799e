package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec("s3cr3t")
	require.NoError(t, err)
	return codec
}

func TestNewCodecRequiresSecret(t *testing.T) {
	_, err := NewCodec("  ")
	assert.ErrorIs(t, err, ErrMissingSecret)

	var nilCodec *Codec
	_, err = nilCodec.Compute(map[string]any{"a": "b"})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestCanonicalizeSortsAndEncodes(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"status":       "succeeded",
		"amount":       15000,
		"customer":     "Awa Diop & co",
		"signature":    "ignored",
		"redirect_url": "https://shop.example/return?x=1",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"amount=15000&customer=Awa%20Diop%20%26%20co&redirect_url=https%3A%2F%2Fshop.example%2Freturn%3Fx%3D1&status=succeeded",
		got,
	)
}

func TestComputeMatchesManualHMAC(t *testing.T) {
	codec := testCodec(t)
	sig, err := codec.Compute(map[string]any{"b": "2", "a": "1"})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write([]byte("a=1&b=2"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func TestComputeRejectsNonScalar(t *testing.T) {
	codec := testCodec(t)
	_, err := codec.Compute(map[string]any{"nested": map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestVerifyRoundTrip(t *testing.T) {
	codec := testCodec(t)
	signed, err := codec.Sign(map[string]any{
		"reference":  "PAY-01HZX",
		"session_id": "sess_42",
		"status":     "succeeded",
		"amount":     "15000",
	})
	require.NoError(t, err)
	assert.True(t, codec.Verify(signed))
}

func TestVerifyRejectsEverySingleByteMutation(t *testing.T) {
	codec := testCodec(t)
	base := map[string]any{
		"reference":  "PAY-01HZX",
		"session_id": "sess_42",
		"status":     "succeeded",
	}
	signed, err := codec.Sign(base)
	require.NoError(t, err)

	for key, value := range signed {
		raw := []byte(value.(string))
		for i := range raw {
			for bit := 0; bit < 8; bit++ {
				mutated := make(map[string]any, len(signed))
				for k, v := range signed {
					mutated[k] = v
				}
				b := append([]byte(nil), raw...)
				b[i] ^= 1 << bit
				mutated[key] = string(b)
				assert.Falsef(t, codec.Verify(mutated), "mutation of %s at byte %d bit %d verified", key, i, bit)
			}
		}
	}
}

func TestVerifyMalformedInput(t *testing.T) {
	codec := testCodec(t)
	assert.False(t, codec.Verify(nil))
	assert.False(t, codec.Verify(map[string]any{"status": "succeeded"}))
	assert.False(t, codec.Verify(map[string]any{"status": "succeeded", "signature": ""}))
	assert.False(t, codec.Verify(map[string]any{"status": "succeeded", "signature": []string{"x"}}))
	assert.False(t, codec.Verify(map[string]any{"status": []any{1}, "signature": "abc"}))
}

func TestVerifyRejectsNormalizedSignature(t *testing.T) {
	codec := testCodec(t)
	signed, err := codec.Sign(map[string]any{"status": "paid"})
	require.NoError(t, err)
	sig := signed[Field].(string)

	for _, variant := range []string{
		strings.ToUpper(sig),
		" " + sig,
		sig + "\n",
	} {
		tampered := map[string]any{"status": "paid", Field: variant}
		assert.Falsef(t, codec.Verify(tampered), "variant %q verified", variant)
	}
}

func TestDerivedCodecDoesNotCrossVerify(t *testing.T) {
	codec := testCodec(t)
	redirect, err := codec.Derive(PurposeCheckoutRedirect)
	require.NoError(t, err)

	fields := map[string]any{"reference": "PAY-01HZX", "session_id": "sess_42", "status": "succeeded"}
	signedRedirect, err := redirect.Sign(fields)
	require.NoError(t, err)
	assert.True(t, redirect.Verify(signedRedirect))
	assert.False(t, codec.Verify(signedRedirect))

	signedCallback, err := codec.Sign(fields)
	require.NoError(t, err)
	assert.False(t, redirect.Verify(signedCallback))

	again, err := codec.Derive(PurposeCheckoutRedirect)
	require.NoError(t, err)
	assert.True(t, again.Verify(signedRedirect))

	_, err = codec.Derive(" ")
	assert.ErrorIs(t, err, ErrMissingPurpose)
}
