package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_KindAndVisibility(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    Kind
		visible bool
	}{
		{"Validation", Validation("bad %s", "payload"), KindValidation, true},
		{"NotFound", ErrQueueNotFound, KindNotFound, true},
		{"Forbidden", ErrNotManager, KindForbidden, true},
		{"Conflict", ErrLaneOccupied, KindConflict, true},
		{"Internal", Internal("persist queue", errors.New("disk full")), KindInternal, false},
		{"Plain error", errors.New("boom"), KindInternal, false},
		{"Wrapped visible", fmt.Errorf("join: %w", ErrAlreadyJoined), KindConflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.visible, IsVisible(tt.err))
		})
	}
}

func TestError_IsMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("next: %w", ErrQueueEmpty)

	assert.True(t, errors.Is(err, ErrQueueEmpty))
	assert.False(t, errors.Is(err, ErrLaneOccupied))
	assert.True(t, errors.Is(Conflict("nobody is waiting"), ErrQueueEmpty))
}

func TestError_UnwrapInternal(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("load queue", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPublicMessage(t *testing.T) {
	internal := Internal("persist queue", errors.New("disk full"))

	assert.Equal(t, "lane is already occupied", PublicMessage(ErrLaneOccupied, false))
	assert.Equal(t, InternalMessage, PublicMessage(internal, false))
	assert.Equal(t, InternalMessage, PublicMessage(errors.New("boom"), false))
	assert.Contains(t, PublicMessage(internal, true), "disk full")
}
