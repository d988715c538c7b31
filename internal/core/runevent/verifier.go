// Package runevent authenticates settlement events sent by the game server.
package runevent

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	HeaderTimestamp = "x-run-event-timestamp"
	HeaderNonce     = "x-run-event-nonce"
	HeaderSignature = "x-run-event-signature"
)

var (
	ErrMissingHeaders = errors.New("missing run event headers")
	ErrBadTimestamp   = errors.New("invalid run event timestamp")
	ErrStale          = errors.New("run event outside allowed clock skew")
	ErrBadNonce       = errors.New("invalid run event nonce")
	ErrBadSignature   = errors.New("run event signature mismatch")
	ErrReplayed       = errors.New("run event nonce already used")
)

var rejections = []error{ErrMissingHeaders, ErrBadTimestamp, ErrStale, ErrBadNonce, ErrBadSignature, ErrReplayed}

var (
	noncePattern     = regexp.MustCompile(`^[A-Za-z0-9._:-]{16,128}$`)
	signaturePattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

type Headers struct {
	Timestamp string
	Nonce     string
	Signature string
}

// NonceStore remembers consumed nonces until their TTL passes.
type NonceStore interface {
	// Consume returns false when the nonce was already consumed and has not expired.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
	// Release forgets a consumed nonce so the same signed event can be delivered again.
	Release(ctx context.Context, nonce string) error
}

// IsRejection reports whether err means the event failed authentication. Any other
// Verify error is a failure of the nonce store.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Verifier struct {
	secret []byte
	maxAge time.Duration
	nonces NonceStore
	now    func() time.Time
}

func NewVerifier(secret string, maxAge time.Duration, nonces NonceStore) *Verifier {
	return &Verifier{secret: []byte(secret), maxAge: maxAge, nonces: nonces, now: time.Now}
}

// Verify checks headers against body and consumes the nonce. Every failure is an
// authentication failure; callers should not reveal which check tripped.
func (v *Verifier) Verify(ctx context.Context, h Headers, body []byte) error {
	if h.Timestamp == "" || h.Nonce == "" || h.Signature == "" {
		return ErrMissingHeaders
	}
	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	if !noncePattern.MatchString(h.Nonce) {
		return ErrBadNonce
	}
	if !signaturePattern.MatchString(h.Signature) {
		return ErrBadSignature
	}

	now := v.now()
	sent := time.Unix(ts, 0)
	skew := now.Sub(sent)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxAge {
		return ErrStale
	}

	got, _ := hex.DecodeString(h.Signature)
	if !hmac.Equal(got, v.sign(h.Timestamp, h.Nonce, body)) {
		return ErrBadSignature
	}

	expiry := sent
	if now.After(expiry) {
		expiry = now
	}
	ttl := expiry.Add(v.maxAge).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	fresh, err := v.nonces.Consume(ctx, h.Nonce, ttl)
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if !fresh {
		return ErrReplayed
	}
	return nil
}

// Release hands the nonce back after the event could not be applied, letting the
// sender retry it before the timestamp goes stale.
func (v *Verifier) Release(ctx context.Context, nonce string) error {
	if err := v.nonces.Release(ctx, nonce); err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	return nil
}

// Sign returns the hex signature of timestamp|nonce|body. The game server computes the same.
func (v *Verifier) Sign(timestamp, nonce string, body []byte) string {
	return hex.EncodeToString(v.sign(timestamp, nonce, body))
}

func (v *Verifier) sign(timestamp, nonce string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("|"))
	mac.Write([]byte(nonce))
	mac.Write([]byte("|"))
	mac.Write(body)
	return mac.Sum(nil)
}
