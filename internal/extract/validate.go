package extract

import (
	"strings"

	"github.com/solai17/bytefeed/internal/db"
)

// validateByte enforces length and quality bounds on one candidate unit and
// defaults malformed individual fields instead of rejecting the whole batch.
func validateByte(raw rawByte, opts Options) (db.NewContentByte, bool) {
	content := strings.TrimSpace(raw.Content)
	length := len([]rune(content))
	if length < opts.MinByteLength || length > opts.MaxByteLength {
		return db.NewContentByte{}, false
	}

	quality := 0.0
	if raw.QualityScore != nil {
		quality = clamp01(*raw.QualityScore)
	}
	if quality < opts.QualityThreshold {
		return db.NewContentByte{}, false
	}

	return db.NewContentByte{
		Content:      content,
		ByteType:     normalizeByteType(raw.Type),
		Author:       normalizeOptional(raw.Author),
		Context:      normalizeOptional(raw.Context),
		Category:     defaultCategory(raw.Category),
		QualityScore: quality,
	}, true
}

func normalizeByteType(raw string) string {
	candidate := strings.TrimSpace(strings.ToLower(raw))
	for _, known := range db.KnownByteTypes() {
		if candidate == known {
			return known
		}
	}
	return db.ByteTypeInsight
}

// normalizeCategory maps a declared category onto the known set, or "" when
// it matches nothing.
func normalizeCategory(raw string) string {
	candidate := strings.TrimSpace(strings.ToLower(raw))
	for _, known := range db.KnownCategories() {
		if candidate == known {
			return known
		}
	}
	return ""
}

func defaultCategory(raw string) string {
	if category := normalizeCategory(raw); category != "" {
		return category
	}
	return db.CategoryGeneral
}

func normalizeOptional(raw *string) *string {
	if raw == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") || strings.EqualFold(trimmed, "unknown") {
		return nil
	}
	return &trimmed
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
