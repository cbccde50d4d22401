package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncErrorIsMatchesByKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same kind with message",
			err:    NewSyncError(KindERPRejected, "item X1 is inactive"),
			target: ErrERPRejected,
			want:   true,
		},
		{
			name:   "wrapped with context",
			err:    fmt.Errorf("create order 42: %w", NewSyncError(KindEmptyOrder, "no details")),
			target: ErrEmptyOrder,
			want:   true,
		},
		{
			name:   "different kind",
			err:    NewSyncError(KindMissingKey, "doc entry is empty"),
			target: ErrNotFoundInERP,
			want:   false,
		},
		{
			name:   "plain error",
			err:    errors.New("boom"),
			target: ErrConnection,
			want:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(WrapSyncError(KindConnection, errors.New("login failed"))); got != KindConnection {
		t.Errorf("KindOf(connection) = %s", got)
	}
	if got := KindOf(errors.New("socket closed")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s, want %s", got, KindInternal)
	}
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(NewSyncError(KindERPRejected, "no stock")); got != "no stock" {
		t.Errorf("MessageOf(sync error) = %q", got)
	}
	if got := MessageOf(errors.New("timeout")); got != "timeout" {
		t.Errorf("MessageOf(plain) = %q", got)
	}
	if got := MessageOf(nil); got != "" {
		t.Errorf("MessageOf(nil) = %q", got)
	}
}

func TestWrapSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapSyncError(KindConnection, cause)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped error must expose its cause")
	}
	if !errors.Is(err, ErrConnection) {
		t.Fatal("wrapped error must match ErrConnection")
	}
	if err.Error() != "connection_error: dial tcp: connection refused" {
		t.Fatalf("unexpected text: %q", err.Error())
	}
}
