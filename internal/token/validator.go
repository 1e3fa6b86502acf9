package token

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Mode selects which of the two supported verification protocols a gateway
// uses. The two are mutually incompatible and must never be merged into a
// single guessing path.
type Mode string

const (
	// ModeProcessorIssued verifies a token minted and signed by the payment
	// processor: signature recomputation plus expiry enforcement.
	ModeProcessorIssued Mode = "processor"
	// ModeLocalRegeneration rebuilds the expected token locally and demands
	// bit-for-bit equality with the supplied one. Only sound when the
	// integration controls the token end to end; see Validator.verifyRegenerated.
	ModeLocalRegeneration Mode = "regenerate"
)

// ParseMode maps a configuration string onto a verification mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeProcessorIssued, "":
		return ModeProcessorIssued, nil
	case ModeLocalRegeneration:
		return ModeLocalRegeneration, nil
	default:
		return "", errors.New("token: unknown verification mode " + value)
	}
}

// Typed validator failures. Callers at the HTTP boundary must collapse these
// to a generic rejection so the distinction never reaches the caller.
var (
	ErrMalformedToken    = errors.New("token: malformed token")
	ErrTokenExpired      = errors.New("token: token expired")
	ErrSignatureMismatch = errors.New("token: signature mismatch")
)

// regenerationWindow is the fixed validity attached to locally regenerated
// tokens, matching the processor's documented five minute window.
const regenerationWindow = 300 * time.Second

// Validator checks an inbound callback token against the gateway secret.
type Validator struct {
	Secret string
	Mode   Mode
	// Skew widens expiry acceptance by the given duration. Zero rejects only
	// strictly-past expiries, matching what processors are known to send.
	Skew time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

type claims struct {
	Exp *json.Number `json:"exp"`
}

// Verify checks the supplied token. invoiceID is only consulted in
// regeneration mode, where it is bound into the expected payload.
func (v Validator) Verify(supplied, invoiceID string) error {
	if v.Secret == "" {
		return errors.New("token: validator requires a secret")
	}
	switch v.Mode {
	case ModeLocalRegeneration:
		return v.verifyRegenerated(supplied, invoiceID)
	default:
		return v.verifyProcessorIssued(supplied)
	}
}

// verifyProcessorIssued implements the processor-issued protocol: structural
// split, decode, expiry check against the payload's exp claim, then signature
// recomputation over the re-encoded segments. Re-encoding (rather than reusing
// the wire substrings) normalises away padding and alphabet differences.
func (v Validator) verifyProcessorIssued(supplied string) error {
	parts := strings.Split(supplied, ".")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return ErrMalformedToken
	}
	header, err := DecodeSegment(parts[0], "header")
	if err != nil {
		return ErrMalformedToken
	}
	payload, err := DecodeSegment(parts[1], "payload")
	if err != nil {
		return ErrMalformedToken
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return ErrMalformedToken
	}
	if c.Exp == nil {
		return ErrMalformedToken
	}
	exp, err := c.Exp.Int64()
	if err != nil {
		if f, ferr := c.Exp.Float64(); ferr == nil {
			exp = int64(f)
		} else {
			return ErrMalformedToken
		}
	}
	// Only an already-past expiry is rejected; there is no forward-looking
	// window beyond the optional configured skew.
	if exp+int64(v.Skew/time.Second) < v.now().Unix() {
		return ErrTokenExpired
	}

	headerB64 := EncodeSegment(header)
	payloadB64 := EncodeSegment(payload)
	expected := EncodeSegment(Sign(headerB64, payloadB64, v.Secret))
	if !SignaturesEqual(expected, parts[2]) {
		return ErrSignatureMismatch
	}
	return nil
}

// regenHeader and regenPayload define the canonical JSON shapes for the
// regeneration protocol. Struct field order fixes the key order the signature
// depends on.
type regenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type regenPayload struct {
	ID  string `json:"id"`
	Exp int64  `json:"exp"`
}

// verifyRegenerated rebuilds the expected token from the invoice id and the
// current clock and compares the full string. Because exp is computed at
// verification time, this only matches when the counterparty derives the token
// the same way inside the five minute window; it cannot validate a token the
// processor signed at invoice-creation time. That limitation is inherent to
// the protocol, not to this implementation.
func (v Validator) verifyRegenerated(supplied, invoiceID string) error {
	if supplied == "" || invoiceID == "" {
		return ErrMalformedToken
	}
	expected, err := v.Regenerate(invoiceID)
	if err != nil {
		return err
	}
	if !SignaturesEqual(expected, supplied) {
		return ErrSignatureMismatch
	}
	return nil
}

// Regenerate produces the expected token for the given invoice id under the
// regeneration protocol.
func (v Validator) Regenerate(invoiceID string) (string, error) {
	headerJSON, err := json.Marshal(regenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(regenPayload{
		ID:  invoiceID,
		Exp: v.now().Add(regenerationWindow).Unix(),
	})
	if err != nil {
		return "", err
	}
	headerB64 := EncodeSegment(headerJSON)
	payloadB64 := EncodeSegment(payloadJSON)
	signature := EncodeSegment(Sign(headerB64, payloadB64, v.Secret))
	return headerB64 + "." + payloadB64 + "." + signature, nil
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
