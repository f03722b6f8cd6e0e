// Package gateway normalizes storage paths and issues short-lived signed URLs
// for provider consumption. The orchestration engines treat it as a black
// box: an empty result means the path is unusable.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidPath is returned for paths that escape the storage root.
	ErrInvalidPath = errors.New("gateway: invalid storage path")
	// ErrBadSignature is returned when a signed URL fails verification.
	ErrBadSignature = errors.New("gateway: bad signature")
	// ErrExpired is returned when a signed URL is past its expiry.
	ErrExpired = errors.New("gateway: signature expired")
)

// Signer issues and verifies HMAC-signed storage URLs.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewSigner constructs a Signer. baseURL is the public prefix signed URLs
// resolve against, e.g. http://host/files.
func NewSigner(secret, baseURL string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("gateway: signing secret is required")
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// NormalizePath canonicalizes a storage path and rejects traversal attempts.
// Accepts values with or without a leading slash and with backslash
// separators; returns the clean relative key.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrInvalidPath
	}
	if u, err := url.Parse(p); err == nil && u.Scheme != "" {
		// Already a full URL; strip to its path component.
		p = u.Path
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// SignPath normalizes the path and returns a signed URL valid for ttl.
func (s *Signer) SignPath(p string, ttl time.Duration) (string, error) {
	key, err := NormalizePath(p)
	if err != nil {
		return "", err
	}
	exp := s.now().Add(ttl).Unix()
	sig := s.signature(key, exp)
	return fmt.Sprintf("%s/%s?exp=%d&sig=%s", s.baseURL, key, exp, sig), nil
}

// Verify checks the exp and sig query parameters against the key.
func (s *Signer) Verify(key string, query url.Values) error {
	exp, err := strconv.ParseInt(query.Get("exp"), 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	want := s.signature(key, exp)
	got := query.Get("sig")
	if !hmac.Equal([]byte(want), []byte(got)) {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

func (s *Signer) signature(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
