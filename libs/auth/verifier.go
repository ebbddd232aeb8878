package auth

import (
	"crypto/rsa"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// KeySource resolves RS256 verification keys by kid. *JWKSClient is one.
type KeySource interface {
	Get(keyID string) (*rsa.PublicKey, error)
}

// Verifier checks HS256 tokens against a shared secret and RS256 tokens
// against a key source. Either may be left unset.
type Verifier struct {
	secret []byte
	keys   KeySource
	now    func() time.Time
}

func NewVerifier(hsSecret string, keys KeySource) *Verifier {
	v := &Verifier{keys: keys, now: time.Now}
	if hsSecret != "" {
		v.secret = []byte(hsSecret)
	}
	return v
}

// Enabled reports whether any verification method is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && (len(v.secret) > 0 || v.keys != nil)
}

func (v *Verifier) Verify(raw string) (*Claims, error) {
	t, err := split(raw)
	if err != nil {
		return nil, err
	}
	switch {
	case t.header.Alg == "HS256" && len(v.secret) > 0:
		err = verifyHS256(t, v.secret)
	case t.header.Alg == "RS256" && v.keys != nil:
		var key *rsa.PublicKey
		if key, err = v.keys.Get(t.header.Kid); err == nil {
			err = verifyRS256(t, key)
		}
	default:
		err = ErrInvalidToken
	}
	if err != nil {
		return nil, ErrInvalidToken
	}
	return t.claims(v.now())
}

// ActorMiddleware replaces header with the actor named by a valid bearer
// token. Requests without a token keep whatever the gateway forwarded unless
// required is set; a present but invalid token is always rejected.
func (v *Verifier) ActorMiddleware(header string, required bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !v.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				if required {
					http.Error(w, "missing bearer token", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			claims, err := v.Verify(strings.TrimSpace(raw))
			if err != nil {
				logger.Warn("rejected bearer token", "path", r.URL.Path, "err", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			r = r.Clone(r.Context())
			r.Header.Set(header, claims.Actor())
			next.ServeHTTP(w, r)
		})
	}
}
