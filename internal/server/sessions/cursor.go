// Package sessions owns the ephemeral per-device sync sessions and the
// opaque cursor tokens clients use to resume the change feed. Sessions are
// never persisted: a lost session costs nothing, because the cursor alone
// is enough to rebuild one.
package sessions

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/astepanov/syncbox/internal/common"
)

// Cursor is a position in a user's change feed: the (modified_at, seq)
// keyset of the last fully processed entry. The zero cursor means
// "beginning of time" (full resync).
type Cursor struct {
	ModifiedAtUnixNano int64 `json:"m"`
	Seq                int64 `json:"s"`
}

// IsZero reports whether the cursor points at the beginning of time.
func (c Cursor) IsZero() bool {
	return c.ModifiedAtUnixNano == 0 && c.Seq == 0
}

// ModifiedAt returns the cursor's timestamp component.
func (c Cursor) ModifiedAt() time.Time {
	return time.Unix(0, c.ModifiedAtUnixNano).UTC()
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by Encode. The empty string decodes
// to the zero cursor; anything unparseable returns common.ErrInvalidCursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, common.ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return Cursor{}, common.ErrInvalidCursor
	}
	if c.ModifiedAtUnixNano < 0 || c.Seq < 0 {
		return Cursor{}, common.ErrInvalidCursor
	}
	return c, nil
}
