// Package jointoken issues the credential a player presents to the game server
// to join the session of a funded run.
package jointoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMalformed = errors.New("malformed join token")
	ErrSignature = errors.New("join token signature mismatch")
	ErrExpired   = errors.New("join token expired")
)

type Claims struct {
	RunID     uuid.UUID
	AccountID uuid.UUID
	ArenaID   string
	ExpiresAt time.Time
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns base64url(runId|accountId|arenaId|expiresUnix) + "." + hex(hmac-sha256).
func (i *Issuer) Issue(runID, accountID uuid.UUID, arenaID string) (string, time.Time) {
	expiresAt := i.now().Add(i.ttl).Truncate(time.Second)
	payload := strings.Join([]string{
		runID.String(),
		accountID.String(),
		arenaID,
		strconv.FormatInt(expiresAt.Unix(), 10),
	}, "|")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + i.sign(encoded), expiresAt
}

func (i *Issuer) Verify(token string) (*Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrMalformed
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return nil, ErrMalformed
	}
	got, _ := hex.DecodeString(i.sign(encoded))
	if !hmac.Equal(want, got) {
		return nil, ErrSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformed
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return nil, ErrMalformed
	}
	runID, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: run id", ErrMalformed)
	}
	accountID, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: account id", ErrMalformed)
	}
	exp, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expiry", ErrMalformed)
	}

	claims := &Claims{RunID: runID, AccountID: accountID, ArenaID: parts[2], ExpiresAt: time.Unix(exp, 0)}
	if !i.now().Before(claims.ExpiresAt) {
		return nil, ErrExpired
	}
	return claims, nil
}

func (i *Issuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
