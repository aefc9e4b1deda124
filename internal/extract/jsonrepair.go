package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeLoose parses model output that is supposed to be JSON but often is
// not quite: wrapped in markdown fences, surrounded by prose, or carrying
// trailing commas, raw control characters, and comment runs. Repairs are
// attempted in escalating order; only output that resists all of them counts
// as a provider failure.
func DecodeLoose(raw string, v any) error {
	block, err := extractJSONBlock(raw)
	if err != nil {
		return err
	}

	if jsonErr := json.Unmarshal([]byte(block), v); jsonErr == nil {
		return nil
	}

	repaired := stripControlChars(block)
	repaired = stripTrailingCommas(repaired)
	if jsonErr := json.Unmarshal([]byte(repaired), v); jsonErr == nil {
		return nil
	}

	repaired = stripTrailingCommas(stripComments(repaired))
	if jsonErr := json.Unmarshal([]byte(repaired), v); jsonErr != nil {
		return fmt.Errorf("unparseable JSON after repair: %w", jsonErr)
	}
	return nil
}

// extractJSONBlock strips markdown code fences and locates the outermost JSON
// object or array via bracket matching.
func extractJSONBlock(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("response is empty")
	}

	text = stripCodeFences(text)

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", fmt.Errorf("response contains no JSON object or array")
	}

	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// String contents never affect depth.
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("response JSON is unbalanced")
}

func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	first := strings.Index(trimmed, "```")
	rest := trimmed[first+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		// Drop the info string ("json", "JSON", ...).
		rest = rest[newline+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}

	inner := strings.TrimSpace(rest)
	if inner == "" {
		return trimmed
	}
	return inner
}

// stripTrailingCommas removes commas that directly precede a closing bracket,
// ignoring string contents.
func stripTrailingCommas(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == ',':
			j := i + 1
			for j < len(text) && isJSONSpace(text[j]) {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// stripControlChars replaces raw control characters with spaces; models
// occasionally emit unescaped newlines and tabs inside string literals.
func stripControlChars(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		}

		if c < 0x20 {
			if inString {
				sb.WriteByte(' ')
			} else if c == '\n' || c == '\t' || c == '\r' {
				sb.WriteByte(c)
			}
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// stripComments removes // and /* */ runs outside string literals.
func stripComments(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '/' && i+1 < len(text) && text[i+1] == '/':
			for i < len(text) && text[i] != '\n' {
				i++
			}
			if i < len(text) {
				sb.WriteByte('\n')
			}
			continue
		case !inString && c == '/' && i+1 < len(text) && text[i+1] == '*':
			i += 2
			for i+1 < len(text) && !(text[i] == '*' && text[i+1] == '/') {
				i++
			}
			i++
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
