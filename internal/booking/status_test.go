package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from string
		to   string
		want error
	}{
		{from: StatusPending, to: StatusAccepted, want: nil},
		{from: StatusPending, to: StatusRejected, want: nil},
		{from: StatusAccepted, to: StatusCompleted, want: nil},
		{from: StatusPending, to: StatusCompleted, want: ErrInvalidTransition},
		{from: StatusAccepted, to: StatusRejected, want: ErrInvalidTransition},
		{from: StatusAccepted, to: StatusPending, want: ErrInvalidTransition},
		{from: StatusRejected, to: StatusAccepted, want: ErrInvalidTransition},
		{from: StatusCompleted, to: StatusCompleted, want: ErrInvalidTransition},
		{from: StatusPending, to: "Cancelled", want: ErrUnknownStatus},
	}
	for _, tt := range tests {
		t.Run(tt.from+"から"+tt.to, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, validateTransition(tt.from, tt.to), tt.want)
		})
	}
}
