package api

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Admin requests carry an EIP-191 signature by the authority key over
// SigningPayload, plus the unix timestamp that went into it.
const (
	SignatureHeader = "X-Oracle-Signature"
	TimestampHeader = "X-Oracle-Timestamp"
)

const defaultMaxSkew = 5 * time.Minute

var errUnauthenticated = errors.New("unauthenticated admin request")

// SigningPayload is the message an admin request signs.
func SigningPayload(method, path string, timestamp int64, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(timestamp, 10))
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

// SignRequest sets the timestamp and signature headers on req for body.
func SignRequest(req *http.Request, body []byte, key *ecdsa.PrivateKey, now time.Time) error {
	ts := now.Unix()
	sig, err := crypto.Sign(accounts.TextHash(SigningPayload(req.Method, req.URL.Path, ts, body)), key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(SignatureHeader, hexutil.Encode(sig))
	return nil
}

// signatureAuth recovers the signer of admin requests and rejects stale or
// replayed signatures.
type signatureAuth struct {
	maxSkew time.Duration
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newSignatureAuth(maxSkew time.Duration, now func() time.Time) *signatureAuth {
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	if now == nil {
		now = time.Now
	}
	return &signatureAuth{maxSkew: maxSkew, now: now, seen: make(map[string]time.Time)}
}

// caller returns the recovered signer address and the request body.
func (a *signatureAuth) caller(r *http.Request, maxBody int64) (string, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}

	ts, err := strconv.ParseInt(r.Header.Get(TimestampHeader), 10, 64)
	if err != nil {
		return "", nil, fmt.Errorf("%w: missing or invalid timestamp", errUnauthenticated)
	}
	now := a.now()
	signedAt := time.Unix(ts, 0)
	if signedAt.Before(now.Add(-a.maxSkew)) || signedAt.After(now.Add(a.maxSkew)) {
		return "", nil, fmt.Errorf("%w: timestamp outside the accepted window", errUnauthenticated)
	}

	raw := r.Header.Get(SignatureHeader)
	sig, err := hexutil.Decode(raw)
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", nil, fmt.Errorf("%w: missing or invalid signature", errUnauthenticated)
	}
	// Wallets emit v as 27/28.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := accounts.TextHash(SigningPayload(r.Method, r.URL.Path, ts, body))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}

	if err := a.markSeen(common.Bytes2Hex(digest)+common.Bytes2Hex(sig), now); err != nil {
		return "", nil, err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), body, nil
}

// markSeen records a signed request so it cannot be replayed while its
// timestamp is still accepted.
func (a *signatureAuth) markSeen(key string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, at := range a.seen {
		if now.Sub(at) > 2*a.maxSkew {
			delete(a.seen, k)
		}
	}
	if _, ok := a.seen[key]; ok {
		return fmt.Errorf("%w: request already used", errUnauthenticated)
	}
	a.seen[key] = now
	return nil
}
