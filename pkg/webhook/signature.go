package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header names of a signed notification.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
)

// MaxBodySize caps the payload VerifyRequest reads.
const MaxBodySize = 1 << 20

const clockSkew = time.Minute

// SignatureHeaders carry the signature of one notification.
type SignatureHeaders struct {
	Signature string
	Timestamp int64
	ID        string
}

// Apply sets the signature headers on h.
func (s SignatureHeaders) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	if s.ID != "" {
		h.Set(HeaderID, s.ID)
	}
}

// SignPayload signs payload at the current time.
// Signature format: hex(HMAC-SHA256(secret, timestamp + "." + payload)).
func SignPayload(secret string, payload []byte) (SignatureHeaders, error) {
	return SignPayloadAt(secret, payload, time.Now())
}

// SignPayloadAt signs payload with the timestamp at.
func SignPayloadAt(secret string, payload []byte, at time.Time) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	ts := at.Unix()
	return SignatureHeaders{
		Signature: sign(secret, ts, payload),
		Timestamp: ts,
		ID:        uuid.NewString(),
	}, nil
}

func sign(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", ts)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks that headers sign payload with secret. A positive
// maxAge also rejects timestamps older than maxAge or more than a minute ahead.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, maxAge time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	if headers.Signature == "" {
		return ErrMissingSignature
	}

	if maxAge > 0 {
		age := time.Since(time.Unix(headers.Timestamp, 0))
		if age > maxAge || age < -clockSkew {
			return fmt.Errorf("%w: age %v", ErrExpiredSignature, age.Round(time.Second))
		}
	}

	expected := sign(secret, headers.Timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ExtractSignatureHeaders reads the signature headers from h.
func ExtractSignatureHeaders(h http.Header) (SignatureHeaders, error) {
	sig := SignatureHeaders{
		Signature: h.Get(HeaderSignature),
		ID:        h.Get(HeaderID),
	}
	raw := h.Get(HeaderTimestamp)
	if sig.Signature == "" || raw == "" {
		return SignatureHeaders{}, ErrMissingSignature
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return SignatureHeaders{}, fmt.Errorf("%w: invalid timestamp %q", ErrMissingSignature, raw)
	}
	sig.Timestamp = ts
	return sig, nil
}

// VerifyRequest reads the body of r and verifies its signature headers.
// It returns the verified body.
func VerifyRequest(r *http.Request, secret string, maxAge time.Duration) ([]byte, error) {
	headers, err := ExtractSignatureHeaders(r.Header)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidPayload, MaxBodySize)
	}
	if err := VerifySignature(secret, body, headers, maxAge); err != nil {
		return nil, err
	}
	return body, nil
}
