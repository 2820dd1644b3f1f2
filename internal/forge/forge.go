// Package forge parses and authenticates push notifications from git
// hosting providers. The HTTP layer resolves the target repository first
// and hands its secret here, so every verification runs against
// per-repository credentials before the body is decoded.
package forge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxPayloadBytes caps inbound webhook bodies at 25 MiB.
const MaxPayloadBytes = 25 << 20

// Verification and parse failures surfaced to the HTTP layer, which maps
// them to user-facing messages.
var (
	ErrMissingSignature = errors.New("signature was not found")
	ErrInvalidSignature = errors.New("signature is invalid")
	ErrBadPayload       = errors.New("invalid payload")
)

// Provider verifies and parses one hosting provider's push notification.
type Provider interface {
	// Name is the path segment that selects this provider.
	Name() string

	// Parse verifies the request against the repository secret and returns
	// the push payload. Verification happens before the body is decoded.
	Parse(r *http.Request, secret string) (*Payload, error)
}

// GitReference is the branch head or tag a push refers to. Exactly one
// field is set.
type GitReference struct {
	Branch string
	Tag    string
}

// IsTag reports whether the reference is a tag.
func (g GitReference) IsTag() bool { return g.Tag != "" }

// ParseRef classifies a full git ref. Only branch heads and tags are
// accepted; other ref types (notes, pull refs) are rejected.
func ParseRef(ref string) (GitReference, error) {
	if strings.HasPrefix(ref, "refs/heads/") && len(ref) > len("refs/heads/") {
		return GitReference{Branch: strings.TrimPrefix(ref, "refs/heads/")}, nil
	}
	if strings.HasPrefix(ref, "refs/tags/") && len(ref) > len("refs/tags/") {
		return GitReference{Tag: strings.TrimPrefix(ref, "refs/tags/")}, nil
	}
	return GitReference{}, fmt.Errorf("invalid ref %q", ref)
}

// Payload is the provider-independent content of a push notification.
type Payload struct {
	Ref    GitReference
	Before string
	After  string
}

// Env returns the variables the payload contributes to a job's
// environment. Exactly one of LITTLECI_GIT_BRANCH or LITTLECI_GIT_TAG is
// present, matching the reference type.
func (p *Payload) Env() map[string]string {
	env := map[string]string{
		"LITTLECI_GIT_BEFORE": p.Before,
		"LITTLECI_GIT_AFTER":  p.After,
	}
	if p.Ref.IsTag() {
		env["LITTLECI_GIT_TAG"] = p.Ref.Tag
	} else {
		env["LITTLECI_GIT_BRANCH"] = p.Ref.Branch
	}
	return env
}

// pushBody is the subset of provider push payloads littleci reads.
type pushBody struct {
	Ref    string `json:"ref"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// readBody drains the request body up to MaxPayloadBytes. Oversized or
// unreadable bodies fail as bad payloads.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		return nil, ErrBadPayload
	}
	if len(body) > MaxPayloadBytes {
		return nil, ErrBadPayload
	}
	return body, nil
}

// parsePush decodes a verified push body.
func parsePush(body []byte) (*Payload, error) {
	var raw pushBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrBadPayload
	}
	ref, err := ParseRef(raw.Ref)
	if err != nil {
		return nil, ErrBadPayload
	}
	return &Payload{Ref: ref, Before: raw.Before, After: raw.After}, nil
}
