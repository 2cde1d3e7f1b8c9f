package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Realm is announced in the WWW-Authenticate challenge.
const Realm = "SanthuShare"

// Gate checks HTTP Basic credentials against one shared password. The
// username is ignored. A Gate with no password authorizes everything.
type Gate struct {
	hash []byte
	// long holds a SHA-256 digest for passwords bcrypt cannot take (>72 bytes).
	long []byte
	open bool
}

// NewGate hashes password with bcrypt; the plaintext is not retained.
func NewGate(password string) (*Gate, error) {
	if password == "" {
		return &Gate{open: true}, nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		sum := sha256.Sum256([]byte(password))
		return &Gate{long: sum[:]}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	return &Gate{hash: h}, nil
}

// NewGateFromHash uses a pre-computed bcrypt hash.
func NewGateFromHash(hash string) (*Gate, error) {
	hash = strings.TrimSpace(hash)
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.Wrap(err, "invalid bcrypt hash")
	}
	return &Gate{hash: []byte(hash)}, nil
}

// Open reports whether the gate lets every request through.
func (g *Gate) Open() bool { return g.open }

// Authorize reports whether the Authorization header carries the password.
func (g *Gate) Authorize(h http.Header) bool {
	if g.open {
		return true
	}
	pass, ok := parseBasicAuth(h.Get("Authorization"))
	if !ok {
		return false
	}
	return g.match(pass)
}

func (g *Gate) match(pass string) bool {
	if g.long != nil {
		sum := sha256.Sum256([]byte(pass))
		return subtle.ConstantTimeCompare(sum[:], g.long) == 1
	}
	return bcrypt.CompareHashAndPassword(g.hash, []byte(pass)) == nil
}

// Require wraps next so that unauthorized requests get a 401 challenge and
// never reach routing.
func (g *Gate) Require(next http.Handler) http.Handler {
	if g.open {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			deny(w, "Auth Required")
			return
		}
		if !g.Authorize(r.Header) {
			deny(w, "Access Denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`"`)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(msg))
}

// parseBasicAuth returns the part after the first ':' of the decoded
// credential. The scheme is case-insensitive.
func parseBasicAuth(v string) (pass string, ok bool) {
	fields := strings.Fields(v)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "basic") {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return "", false
	}
	s := string(raw)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", false
	}
	return s[i+1:], true
}
