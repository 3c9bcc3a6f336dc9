package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atikaazri/BirthdayCongrat/internal/signature"
)

// Version is the current signed-token format version.
const Version = "V2"

const (
	delimiter     = "|"
	versionPrefix = Version + delimiter
)

// Sentinel errors for token validation failures. Tamper and format failures
// indicate abuse or corruption and must be surfaced distinctly from the
// benign lifecycle failures (expired, already redeemed) of the service layer.
var (
	ErrBadFormat = errors.New("malformed token")
	ErrTampered  = errors.New("token signature mismatch")
	ErrExpired   = errors.New("token expired")
)

// Payload is the signed unit embedded in a V2 token. Field order is the
// canonical serialization order; the signature covers the base64 text of
// exactly this JSON.
type Payload struct {
	Code         string    `json:"code"`
	EmployeeID   string    `json:"employee_id,omitempty"`
	EmployeeName string    `json:"employee_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Version      string    `json:"version"`
}

// Codec encodes voucher payloads into signed wire strings and back.
type Codec struct {
	engine *signature.Engine
	log    *zap.Logger
	now    func() time.Time
}

func NewCodec(engine *signature.Engine, log *zap.Logger) *Codec {
	return &Codec{
		engine: engine,
		log:    log,
		now:    time.Now,
	}
}

// Encode serializes and signs a payload: "V2|base64(payloadJSON)|base64(sig)".
// The signature is computed over the base64 data segment so the signed
// material stays textual end to end.
func (c *Codec) Encode(p Payload) (string, error) {
	if p.Code == "" {
		return "", fmt.Errorf("%w: empty code", ErrBadFormat)
	}
	if !p.ExpiresAt.After(p.CreatedAt) {
		return "", fmt.Errorf("%w: expires_at must be after created_at", ErrBadFormat)
	}
	p.Version = Version

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	data := base64.StdEncoding.EncodeToString(raw)
	sig := base64.StdEncoding.EncodeToString(c.engine.Sign([]byte(data)))

	return Version + delimiter + data + delimiter + sig, nil
}

// Decode parses and verifies a scanned token string.
//
// Inputs without the current version prefix are treated as legacy bare codes
// (fixed-length alphanumeric, pre-signing era) and returned with no payload.
//
// With allowExpired set, a signature mismatch is logged and the code is still
// extracted optimistically: secret rotation or clock skew must not strand a
// physically-held code before the ledger-state check, which is authoritative.
func (c *Codec) Decode(raw string, allowExpired bool) (string, *Payload, error) {
	if !strings.HasPrefix(raw, versionPrefix) {
		if IsLegacyCode(raw) {
			return raw, nil, nil
		}
		return "", nil, fmt.Errorf("%w: not a signed token or legacy code", ErrBadFormat)
	}

	parts := strings.Split(raw, delimiter)
	if len(parts) != 3 {
		return "", nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrBadFormat, len(parts))
	}
	data, sigB64 := parts[1], parts[2]

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad signature encoding", ErrBadFormat)
	}

	if !c.engine.Verify([]byte(data), sig) {
		if !allowExpired {
			return "", nil, ErrTampered
		}
		c.log.Warn("token signature mismatch, extracting code for ledger check",
			zap.Int("token_len", len(raw)),
		)
	}

	p, err := decodePayload(data)
	if err != nil {
		return "", nil, err
	}

	if !allowExpired && c.now().After(p.ExpiresAt) {
		return p.Code, p, ErrExpired
	}
	return p.Code, p, nil
}

func decodePayload(data string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad data encoding", ErrBadFormat)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: bad payload JSON", ErrBadFormat)
	}
	if p.Code == "" || p.CreatedAt.IsZero() || p.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: missing required payload fields", ErrBadFormat)
	}
	return &p, nil
}
