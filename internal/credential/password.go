// Package credential hashes passwords and signs bearer tokens.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Argon2Params tunes the argon2id key derivation.
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2 is used for every new digest.
var DefaultArgon2 = Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 1, SaltLen: 16, KeyLen: 32}

// PasswordHasher produces and checks password digests.
type PasswordHasher struct {
	params Argon2Params
}

// NewPasswordHasher builds a hasher with the given parameters.
func NewPasswordHasher(params Argon2Params) *PasswordHasher {
	return &PasswordHasher{params: params}
}

// Hash returns a PHC string: $argon2id$v=19$m=...,t=...,p=...$<salt>$<key>.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("hash password: empty password: %w", shared.ErrBadRequest)
	}
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", shared.InternalError("hash password", err)
	}
	key := argon2.IDKey([]byte(plain), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks plain against digest. A mismatch is (false, nil); an unreadable
// digest is an internal error. Legacy bcrypt digests are still accepted.
func (h *PasswordHasher) Verify(plain, digest string) (bool, error) {
	if strings.HasPrefix(digest, "$2") {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
		switch {
		case err == nil:
			return true, nil
		case err == bcrypt.ErrMismatchedHashAndPassword:
			return false, nil
		default:
			return false, shared.InternalError("verify password", err)
		}
	}

	parsed, err := parsePHC(digest)
	if err != nil {
		return false, shared.InternalError("verify password", err)
	}
	key := argon2.IDKey([]byte(plain), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(key, parsed.key) == 1, nil
}

// NeedsRehash reports whether digest was produced by another algorithm or parameter set.
func (h *PasswordHasher) NeedsRehash(digest string) bool {
	parsed, err := parsePHC(digest)
	if err != nil {
		return true
	}
	return parsed.memory != h.params.Memory || parsed.time != h.params.Time || parsed.parallelism != h.params.Parallelism
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(digest string) (phc, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, fmt.Errorf("unsupported digest format")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}

	var out phc
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, fmt.Errorf("malformed parameter %q", kv)
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return phc{}, fmt.Errorf("malformed parameter %q: %w", kv, err)
		}
		switch name {
		case "m":
			out.memory = uint32(n)
		case "t":
			out.time = uint32(n)
		case "p":
			if n > 255 {
				return phc{}, fmt.Errorf("parallelism out of range")
			}
			out.parallelism = uint8(n)
		default:
			return phc{}, fmt.Errorf("unknown parameter %q", name)
		}
	}
	if out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return phc{}, fmt.Errorf("missing argon2 parameters")
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return phc{}, fmt.Errorf("decode salt: %w", err)
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return phc{}, fmt.Errorf("decode key: %w", err)
	}
	if len(out.key) == 0 {
		return phc{}, fmt.Errorf("empty key")
	}
	return out, nil
}
