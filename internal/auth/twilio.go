package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"sort"
)

// TwilioValidator checks the X-Twilio-Signature header on WhatsApp webhooks.
// The signature is base64(HMAC-SHA1(auth token, url + sorted form params)).
type TwilioValidator struct {
	authToken []byte
}

// NewTwilioValidator builds a validator from the account auth token.
func NewTwilioValidator(authToken string) *TwilioValidator {
	return &TwilioValidator{authToken: []byte(authToken)}
}

// Valid reports whether the signature matches the request URL and form params.
func (v *TwilioValidator) Valid(requestURL string, params map[string]string, signature string) bool {
	if len(v.authToken) == 0 || signature == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, v.authToken)
	mac.Write([]byte(requestURL))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params[k]))
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
