package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrBadSignature is returned when a webhook signature does not verify.
var ErrBadSignature = errors.New("invalid webhook signature")

// signatureTolerance bounds the age of a signed Resend webhook.
const signatureTolerance = 5 * time.Minute

// TwilioSignature computes the X-Twilio-Signature value for a POST to
// fullURL with the given form parameters.
func TwilioSignature(secret, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyTwilio checks an X-Twilio-Signature header.
func VerifyTwilio(secret, fullURL string, form url.Values, signature string) error {
	want := TwilioSignature(secret, fullURL, form)
	if signature == "" || !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

func resendKey(secret string) []byte {
	raw := strings.TrimPrefix(secret, "whsec_")
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return key
	}
	return []byte(secret)
}

// ResendSignature computes the v1 signature Resend sends in svix-signature.
func ResendSignature(secret, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, resendKey(secret))
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyResend checks the svix-id, svix-timestamp and svix-signature headers.
// The header may carry several space separated signatures.
func VerifyResend(secret, id, timestamp, signatures string, body []byte, now time.Time) error {
	if id == "" || timestamp == "" || signatures == "" {
		return ErrBadSignature
	}
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if d := now.Sub(time.Unix(sec, 0)); d > signatureTolerance || d < -signatureTolerance {
		return ErrBadSignature
	}
	want := ResendSignature(secret, id, timestamp, body)
	for _, sig := range strings.Fields(signatures) {
		if hmac.Equal([]byte(want), []byte(sig)) {
			return nil
		}
	}
	return ErrBadSignature
}
