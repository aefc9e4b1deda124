package feed

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBadCursor marks a cursor the caller cannot resume from; the first page
// has no cursor at all.
var ErrBadCursor = errors.New("malformed cursor")

// cursorPayload is the decoded form of the opaque page cursor. Offsets are
// only meaningful within the mode that issued them.
type cursorPayload struct {
	Mode   string `json:"m"`
	Offset int    `json:"o"`
}

func encodeCursor(mode Mode, offset int) string {
	raw, _ := json.Marshal(cursorPayload{Mode: string(mode), Offset: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string, mode Mode) (int, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrBadCursor
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, ErrBadCursor
	}
	if payload.Mode != string(mode) {
		return 0, fmt.Errorf("%w: cursor belongs to mode %q", ErrBadCursor, payload.Mode)
	}
	if payload.Offset < 0 {
		return 0, ErrBadCursor
	}
	return payload.Offset, nil
}
