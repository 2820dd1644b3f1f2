package forge

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGiteaParse(t *testing.T) {
	body := `{"ref":"refs/heads/develop","before":"aaa111","after":"bbb222"}`

	req := httptest.NewRequest("POST", "/notify/my-repo/gitea", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", testSecret)

	payload, err := Gitea{}.Parse(req, testSecret)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if payload.Ref.Branch != "develop" {
		t.Errorf("Branch = %q, want develop", payload.Ref.Branch)
	}
}

func TestGiteaParseSecretFailures(t *testing.T) {
	body := `{"ref":"refs/heads/master","before":"a","after":"b"}`

	tests := []struct {
		name      string
		signature string
		want      error
	}{
		{"missing header", "", ErrMissingSignature},
		{"wrong secret", "not-the-secret", ErrInvalidSignature},
		{"hmac digest instead of secret", signSHA1(body, testSecret), ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/notify/my-repo/gitea", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set("X-Hub-Signature", tt.signature)
			}

			_, err := Gitea{}.Parse(req, testSecret)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}
}
