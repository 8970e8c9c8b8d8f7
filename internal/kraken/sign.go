package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/url"
)

// signRequest computes the API-Sign header for a private endpoint.
//
// The scheme is Kraken's: SHA-256 over the nonce concatenated with the
// url-encoded form body, then HMAC-SHA512 keyed with the decoded secret
// over the request path concatenated with that digest, base64-encoded.
// The form must already contain the nonce field.
func signRequest(secret []byte, path string, form url.Values) string {
	message := form.Encode()
	digest := sha256.Sum256([]byte(form.Get("nonce") + message))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
