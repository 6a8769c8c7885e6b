package twilio_test

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"

	"github.com/teslashibe/go-voiceline/pkg/twilio"
)

func TestValidator(t *testing.T) {
	// The documented reference case: auth token 12345, URL with query
	// string, five posted parameters.
	const (
		authToken = "12345"
		url       = "https://mycompany.com/myapp.php?foo=1&bar=2"
		signature = "RSOYDt4T1cUTdK1PDd93/VVr8B8="
	)
	params := map[string]string{
		"CallSid": "CA1234567890ABCDE",
		"Caller":  "+14158675310",
		"Digits":  "1234",
		"From":    "+14158675310",
		"To":      "+18005551212",
	}
	v := twilio.NewValidator(authToken)

	t.Run("accepts reference signature", func(t *testing.T) {
		if !v.Valid(url, params, signature) {
			t.Error("reference signature rejected")
		}
	})

	t.Run("canonical string is url then sorted name+value pairs", func(t *testing.T) {
		canonical := url +
			"CallSidCA1234567890ABCDE" +
			"Caller+14158675310" +
			"Digits1234" +
			"From+14158675310" +
			"To+18005551212"
		mac := hmac.New(sha1.New, []byte(authToken))
		mac.Write([]byte(canonical))
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if !v.Valid(url, params, want) {
			t.Error("hand-built canonical signature rejected")
		}
	})

	t.Run("rejects tampered parameter", func(t *testing.T) {
		tampered := map[string]string{}
		for k, val := range params {
			tampered[k] = val
		}
		tampered["Digits"] = "9999"
		if v.Valid(url, tampered, signature) {
			t.Error("tampered parameters accepted")
		}
	})

	t.Run("rejects wrong url", func(t *testing.T) {
		if v.Valid("https://mycompany.com/other.php", params, signature) {
			t.Error("wrong URL accepted")
		}
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		if twilio.NewValidator("not-the-token").Valid(url, params, signature) {
			t.Error("wrong auth token accepted")
		}
	})

	t.Run("empty params still signs the url", func(t *testing.T) {
		mac := hmac.New(sha1.New, []byte(authToken))
		mac.Write([]byte(url))
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if !v.Valid(url, nil, want) {
			t.Error("signature over bare URL rejected")
		}
	})
}
