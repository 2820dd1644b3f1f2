package forge

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

const testSecret = "4f2bb6a57db0f0e5a5b0b7d9a8e6c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5f6a7b8"

func signSHA1(body, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubParse(t *testing.T) {
	body := `{"ref":"refs/heads/master","before":"aaa111","after":"bbb222"}`

	req := httptest.NewRequest("POST", "/notify/my-repo/github", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", signSHA1(body, testSecret))

	payload, err := GitHub{}.Parse(req, testSecret)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if payload.Ref.Branch != "master" {
		t.Errorf("Branch = %q, want master", payload.Ref.Branch)
	}
	if payload.Before != "aaa111" || payload.After != "bbb222" {
		t.Errorf("commits = %q..%q, want aaa111..bbb222", payload.Before, payload.After)
	}
}

func TestGitHubParseTag(t *testing.T) {
	body := `{"ref":"refs/tags/v1.0.0","before":"aaa111","after":"bbb222"}`

	req := httptest.NewRequest("POST", "/notify/my-repo/github", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", signSHA1(body, testSecret))

	payload, err := GitHub{}.Parse(req, testSecret)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !payload.Ref.IsTag() || payload.Ref.Tag != "v1.0.0" {
		t.Errorf("Ref = %+v, want tag v1.0.0", payload.Ref)
	}
}

func TestGitHubParseSignatureFailures(t *testing.T) {
	body := `{"ref":"refs/heads/master","before":"a","after":"b"}`

	tests := []struct {
		name      string
		signature string
		want      error
	}{
		{"missing header", "", ErrMissingSignature},
		{"wrong algorithm prefix", "sha256=abcdef", ErrInvalidSignature},
		{"not hex", "sha1=zzzz", ErrInvalidSignature},
		{"signed with wrong secret", signSHA1(body, "wrong-secret"), ErrInvalidSignature},
		{"signed over different body", signSHA1(body+"x", testSecret), ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/notify/my-repo/github", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set("X-Hub-Signature", tt.signature)
			}

			_, err := GitHub{}.Parse(req, testSecret)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGitHubParseVerifiesBeforeDecoding(t *testing.T) {
	// A garbage body with a valid signature fails on decode, not on auth.
	body := "not json at all"

	req := httptest.NewRequest("POST", "/notify/my-repo/github", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", signSHA1(body, testSecret))

	_, err := GitHub{}.Parse(req, testSecret)
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("Parse error = %v, want ErrBadPayload", err)
	}

	// The same body without a valid signature must fail on auth first.
	req = httptest.NewRequest("POST", "/notify/my-repo/github", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", "sha1=00ff")

	_, err = GitHub{}.Parse(req, testSecret)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Parse error = %v, want ErrInvalidSignature", err)
	}
}
