package jobs

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/zeebo/blake3"
)

// CanonicalInput serializes input to compact JSON with object keys sorted,
// so two structurally equal inputs always produce the same bytes. Raw JSON
// ([]byte or json.RawMessage) is parsed and re-encoded rather than trusted.
func CanonicalInput(input any) (json.RawMessage, error) {
	var raw []byte
	switch v := input.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		raw = data
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrInvalidInput)
	}

	canonical, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize input: %w", err)
	}
	return canonical, nil
}

// HashInput returns the fixed-width fingerprint of already canonical input.
func HashInput(canonical []byte) string {
	h := blake3.New()
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))[:models.DefaultInputHashSize]
}

// Fingerprint is CanonicalInput followed by HashInput.
func Fingerprint(input any) (string, error) {
	canonical, err := CanonicalInput(input)
	if err != nil {
		return "", err
	}
	return HashInput(canonical), nil
}
