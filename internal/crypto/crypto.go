package crypto

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/sha3"
)

// alphaNumeric is the alphabet for identifiers that end up in URLs and
// database keys. Salts and secrets use nanoid's default URL-safe alphabet.
const alphaNumeric = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Argon2id parameters for stored passwords. These are embedded in the
// encoded hash, so they can change without breaking existing users.
const (
	argonMemory  = 4096 // KiB
	argonTime    = 3
	argonLanes   = 1
	argonHashLen = 32

	saltLength = 16
)

// HashValue returns the lower-hex SHA3-256 digest of s. Repository secrets
// and the API signing key are stored and compared in this form.
func HashValue(s string) string {
	sum := sha3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SecureCompare reports whether a and b are equal in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashPassword derives an Argon2id hash of password with the given salt and
// returns it in the standard encoded form, parameters and salt included.
func HashPassword(password, salt string) string {
	hash := argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonLanes, argonHashLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonLanes,
		base64.RawStdEncoding.EncodeToString([]byte(salt)),
		base64.RawStdEncoding.EncodeToString(hash))
}

// VerifyPassword checks password against an encoded Argon2id hash. It reads
// the parameters and salt out of the encoded form, so hashes produced with
// older parameters still verify. Malformed input verifies as false.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, time uint32
	var lanes uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &lanes); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, lanes, uint32(len(want)))
	return hmac.Equal(got, want)
}

// NewID returns a 24-character alphanumeric identifier. Jobs, repositories
// and users all share this shape.
func NewID() (string, error) {
	return gonanoid.Generate(alphaNumeric, 24)
}

// NewSalt returns a fresh URL-safe password salt.
func NewSalt() (string, error) {
	return gonanoid.New(saltLength)
}

// NewRepositorySecret returns the stored form of a fresh repository secret:
// the SHA3-256 digest of 32 random URL-safe characters. The raw material is
// never kept.
func NewRepositorySecret() (string, error) {
	raw, err := gonanoid.New(32)
	if err != nil {
		return "", err
	}
	return HashValue(raw), nil
}

// NewConfigSecret returns a 64-character URL-safe secret for generated
// configuration files.
func NewConfigSecret() (string, error) {
	return gonanoid.New(64)
}
