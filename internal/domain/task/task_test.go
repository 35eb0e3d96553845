package task

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/stratos/internal/domain"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if Status("cancelled").Valid() {
		t.Error("unknown status must not be valid")
	}
}

func TestCreateRequestValidate(t *testing.T) {
	req := CreateRequest{Command: "ffmpeg -i x out.mp4", Owner: ""}
	if err := req.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	req.Owner = "user-1"
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 15, 123456000, time.UTC)
	id := uuid.NewString()
	c := Cursor{CreatedAt: ts, ID: id}

	got, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !got.CreatedAt.Equal(ts) || got.ID != id {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	for _, token := range []string{"!!!", "e30", "bm90LWpzb24"} {
		if _, err := DecodeCursor(token); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("DecodeCursor(%q) = %v, want validation error", token, err)
		}
	}
	c, err := DecodeCursor("")
	if err != nil || c != nil {
		t.Errorf("empty token should be nil cursor, got %v %v", c, err)
	}
}

func TestCursorBefore(t *testing.T) {
	ts := time.Now().UTC()
	c := Cursor{CreatedAt: ts, ID: "bbbb"}

	if !c.Before(&Task{CreatedAt: ts.Add(-time.Second), ID: "zzzz"}) {
		t.Error("older task should be after the cursor")
	}
	if !c.Before(&Task{CreatedAt: ts, ID: "aaaa"}) {
		t.Error("same timestamp with smaller id should be after the cursor")
	}
	if c.Before(&Task{CreatedAt: ts, ID: "bbbb"}) {
		t.Error("cursor row itself must be excluded")
	}
	if c.Before(&Task{CreatedAt: ts.Add(time.Second), ID: "aaaa"}) {
		t.Error("newer task must be excluded")
	}
}
