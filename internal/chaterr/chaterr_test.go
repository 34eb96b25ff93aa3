package chaterr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		msg    string
		status int
	}{
		{"forbidden sentinel", ErrNotYourMessage, KindForbidden, "not your message", http.StatusForbidden},
		{"banned", ErrBanned, KindModeration, "banned", http.StatusForbidden},
		{"muted", ErrMuted, KindModeration, "muted", http.StatusForbidden},
		{"not found", ErrNotFound, KindNotFound, "not found", http.StatusNotFound},
		{"validation", New(KindValidation, "text required"), KindValidation, "text required", http.StatusBadRequest},
		{"wrapped keeps kind", fmt.Errorf("handling event: %w", ErrMuted), KindModeration, "muted", http.StatusForbidden},
		{"plain error is internal", errors.New("disk full"), KindInternal, "internal error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf = %q, want %q", got, tt.kind)
			}
			if got := UserMessage(tt.err); got != tt.msg {
				t.Errorf("UserMessage = %q, want %q", got, tt.msg)
			}
			if got := StatusOf(tt.err); got != tt.status {
				t.Errorf("StatusOf = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("no such table")
	err := Wrap(KindInternal, "loading message", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if err.Error() != "loading message: no such table" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSentinelsMatchByIdentity(t *testing.T) {
	err := fmt.Errorf("delete: %w", ErrNotYourMessage)
	if !errors.Is(err, ErrNotYourMessage) {
		t.Error("sentinel not matched through wrapping")
	}
	if errors.Is(err, ErrBanned) {
		t.Error("distinct sentinels conflated")
	}
}
