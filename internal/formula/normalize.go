// Package formula provides RPN formula validation, canonicalization, and
// content hashing. Everything here is pure: no I/O, no side effects.
package formula

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// NotationRPN is the only notation currently accepted.
	NotationRPN = "RPN"

	// MaxFormulaLength is the maximum accepted input size in characters.
	MaxFormulaLength = 300_000

	// MaxTokens is the maximum accepted number of whitespace-separated tokens.
	MaxTokens = 85_000
)

var (
	// ErrInvalidFormula is returned when input fails size or content validation.
	// The wrapped message carries the human-readable reason.
	ErrInvalidFormula = errors.New("invalid formula")

	// ErrInvalidNotation is returned for any notation other than RPN.
	ErrInvalidNotation = errors.New("unsupported notation")
)

// allowedOperators is the closed operator set for Boolean RPN.
var allowedOperators = map[string]struct{}{
	"&&":  {},
	"||":  {},
	"<=>": {},
	"=>":  {},
	"!":   {},
}

// NormalizeAndHash validates and canonicalizes a raw RPN formula and computes
// its content hash. The hash input is "<notation>:<normalized>" so that a
// future second notation cannot collide with RPN content.
//
// Returns ErrInvalidNotation for any notation other than "RPN" and
// ErrInvalidFormula (with a reason) for rejected input.
func NormalizeAndHash(raw, notation string) (string, string, error) {
	if err := Validate(raw); err != nil {
		return "", "", err
	}

	if notation != NotationRPN {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}

	normalized, err := Normalize(raw)
	if err != nil {
		return "", "", err
	}

	return normalized, Hash(notation, normalized), nil
}

// Validate checks input size and content limits without canonicalizing.
func Validate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: formula cannot be empty", ErrInvalidFormula)
	}

	if len(raw) > MaxFormulaLength {
		return fmt.Errorf("%w: formula exceeds %d characters", ErrInvalidFormula, MaxFormulaLength)
	}

	if strings.ContainsRune(raw, '\x00') {
		return fmt.Errorf("%w: formula contains invalid characters", ErrInvalidFormula)
	}

	if tokens := strings.Fields(raw); len(tokens) > MaxTokens {
		return fmt.Errorf("%w: too many tokens (max %d)", ErrInvalidFormula, MaxTokens)
	}

	return nil
}

// Normalize splits the input on runs of whitespace and rejoins with single
// spaces. Token order is preserved exactly: RPN is position-sensitive.
// Each token must be alphanumeric or a member of the allowed operator set.
func Normalize(raw string) (string, error) {
	tokens := strings.Fields(raw)

	for _, token := range tokens {
		if !isAllowedToken(token) {
			return "", fmt.Errorf("%w: disallowed token %q", ErrInvalidFormula, token)
		}
	}

	return strings.Join(tokens, " "), nil
}

// Hash computes the lowercase hex sha256 digest of "<notation>:<normalized>".
func Hash(notation, normalized string) string {
	digest := sha256.Sum256([]byte(notation + ":" + normalized))

	return hex.EncodeToString(digest[:])
}

func isAllowedToken(token string) bool {
	if _, ok := allowedOperators[token]; ok {
		return true
	}

	for _, r := range token {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}

	return true
}
