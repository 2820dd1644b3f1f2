package forge

import (
	"net/http"

	"github.com/littleci/littleci/internal/crypto"
)

// Gitea parses Gitea push webhooks. Gitea sends the configured secret
// verbatim in X-Hub-Signature rather than an HMAC digest, so verification
// is a constant-time string comparison.
type Gitea struct{}

// Name returns "gitea".
func (Gitea) Name() string { return "gitea" }

// Parse compares the X-Hub-Signature header against the repository secret
// and decodes the push payload.
func (Gitea) Parse(r *http.Request, secret string) (*Payload, error) {
	signature := r.Header.Get("X-Hub-Signature")
	if signature == "" {
		return nil, ErrMissingSignature
	}
	if !crypto.SecureCompare(signature, secret) {
		return nil, ErrInvalidSignature
	}

	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return parsePush(body)
}
