package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"joke-catalog/internal/models"
)

// Normalize applies NFKC, full case folding and whitespace collapsing.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	// Casers keep state, so each call gets its own.
	text = cases.Fold().String(text)
	return strings.Join(strings.Fields(text), " ")
}

// Of returns the content fingerprint of a joke payload: the hex sha256 of its
// normalized text. Jokes that differ only in case or spacing collide.
func Of(p models.Payload) string {
	if p == nil {
		return ""
	}
	return Hash(Normalize(p.Text()))
}

func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
