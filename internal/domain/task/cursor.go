package task

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/stratos/internal/domain"
)

// Cursor identifies a position in the (created_at DESC, id DESC) ordering.
// Items strictly after the cursor are those with a smaller (CreatedAt, ID).
type Cursor struct {
	CreatedAt time.Time `json:"ts"`
	ID        string    `json:"id"`
}

// CursorFor returns the cursor positioned at t.
func CursorFor(t *Task) Cursor {
	return Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(struct {
		TS string `json:"ts"`
		ID string `json:"id"`
	}{TS: c.CreatedAt.UTC().Format(time.RFC3339Nano), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode. An empty token yields a
// nil cursor (start of the listing).
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", domain.ErrValidation)
	}
	var body struct {
		TS string `json:"ts"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", domain.ErrValidation)
	}
	ts, err := time.Parse(time.RFC3339Nano, body.TS)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", domain.ErrValidation)
	}
	if _, err := uuid.Parse(body.ID); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", domain.ErrValidation)
	}
	return &Cursor{CreatedAt: ts, ID: body.ID}, nil
}

// Before reports whether t sorts strictly after the cursor in descending
// order, i.e. (t.CreatedAt, t.ID) < (c.CreatedAt, c.ID).
func (c Cursor) Before(t *Task) bool {
	if t.CreatedAt.Equal(c.CreatedAt) {
		return t.ID < c.ID
	}
	return t.CreatedAt.Before(c.CreatedAt)
}
