// Package auth verifies bearer tokens minted by the identity service. It
// never issues tokens.
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the employee acting on a request. ActorCode falls back to
// Sub for tokens minted before the claim existed.
type Claims struct {
	Sub       string `json:"sub"`
	ActorCode string `json:"actor_code,omitempty"`
	Exp       int64  `json:"exp"`
	Iat       int64  `json:"iat"`
}

func (c Claims) Actor() string {
	if c.ActorCode != "" {
		return c.ActorCode
	}
	return c.Sub
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

type token struct {
	header   Header
	unsigned string
	sig      []byte
	payload  []byte
}

func split(raw string) (token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return token{}, ErrInvalidToken
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return token{}, ErrInvalidToken
	}
	var t token
	if err := json.Unmarshal(headerJSON, &t.header); err != nil {
		return token{}, ErrInvalidToken
	}
	if t.payload, err = base64.RawURLEncoding.DecodeString(parts[1]); err != nil {
		return token{}, ErrInvalidToken
	}
	if t.sig, err = base64.RawURLEncoding.DecodeString(parts[2]); err != nil {
		return token{}, ErrInvalidToken
	}
	t.unsigned = parts[0] + "." + parts[1]
	return t, nil
}

func (t token) claims(now time.Time) (*Claims, error) {
	var c Claims
	if err := json.Unmarshal(t.payload, &c); err != nil {
		return nil, ErrInvalidToken
	}
	if c.Exp > 0 && now.Unix() > c.Exp {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

func verifyHS256(t token, secret []byte) error {
	if t.header.Alg != "HS256" {
		return ErrInvalidToken
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(t.unsigned))
	if !hmac.Equal(t.sig, mac.Sum(nil)) {
		return ErrInvalidToken
	}
	return nil
}

func verifyRS256(t token, key *rsa.PublicKey) error {
	if t.header.Alg != "RS256" {
		return ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(t.unsigned))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, hash[:], t.sig); err != nil {
		return ErrInvalidToken
	}
	return nil
}
