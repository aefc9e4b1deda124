package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintBodyRunes bounds how much of the body participates in the
// fingerprint, so resends with trailing tracking junk still collide.
const fingerprintBodyRunes = 1000

// Fingerprint derives the content identity of one edition. Two payloads with
// the same normalized subject and leading body text map to the same value
// regardless of casing, whitespace or HTML-vs-text delivery.
func Fingerprint(subject, plainText string) string {
	normalizedSubject := normalizeForFingerprint(subject)
	normalizedBody := normalizeForFingerprint(plainText)

	runes := []rune(normalizedBody)
	if len(runes) > fingerprintBodyRunes {
		normalizedBody = string(runes[:fingerprintBodyRunes])
	}

	sum := sha256.Sum256([]byte(normalizedSubject + "\n" + normalizedBody))
	return hex.EncodeToString(sum[:])
}

func normalizeForFingerprint(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
