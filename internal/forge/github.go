package forge

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
)

// GitHub parses GitHub push webhooks. GitHub signs the raw body with
// HMAC-SHA1 keyed by the repository secret and sends the hex digest in
// X-Hub-Signature.
type GitHub struct{}

// Name returns "github".
func (GitHub) Name() string { return "github" }

// Parse verifies the X-Hub-Signature header and decodes the push payload.
func (GitHub) Parse(r *http.Request, secret string) (*Payload, error) {
	signature := r.Header.Get("X-Hub-Signature")
	if signature == "" {
		return nil, ErrMissingSignature
	}

	// Expected format: sha1=<hex>
	if !strings.HasPrefix(signature, "sha1=") {
		return nil, ErrInvalidSignature
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha1="))
	if err != nil {
		return nil, ErrInvalidSignature
	}

	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrInvalidSignature
	}

	return parsePush(body)
}
