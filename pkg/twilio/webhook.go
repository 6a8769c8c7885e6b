package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// StreamTwiML returns the voice-webhook response that connects the call to
// the bidirectional media stream at wssURL.
func StreamTwiML(wssURL string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s" />
    </Connect>
</Response>`, wssURL)
}

// Validator checks webhook request signatures against the account auth
// token: HMAC-SHA1 over the full request URL followed by the form parameters
// concatenated name+value in name order, base64 encoded.
type Validator struct {
	authToken string
}

// NewValidator returns a validator for the given auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{authToken: authToken}
}

// Valid reports whether signature matches url and the posted form params.
func (v *Validator) Valid(url string, params map[string]string, signature string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
