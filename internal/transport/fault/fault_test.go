package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	t.Run("is matches kind", func(t *testing.T) {
		err := New(ErrPoolClosed, PhaseConnect, "acquire", "https://api.example.com", nil)
		assert.True(t, errors.Is(err, ErrPoolClosed))
		assert.False(t, errors.Is(err, ErrPoolExhausted))
	})

	t.Run("cause is preserved", func(t *testing.T) {
		err := New(ErrReadFailure, PhaseRead, "read", "", io.ErrUnexpectedEOF)
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
		assert.True(t, errors.Is(err, ErrReadFailure))
		assert.Equal(t, io.ErrUnexpectedEOF, errors.Unwrap(err))
	})

	t.Run("kind survives wrapping", func(t *testing.T) {
		inner := New(ErrRedirectBlocked, PhaseRedirect, "", "https://shop.example.com/private", nil)
		wrapped := fmt.Errorf("list orders: %w", inner)

		assert.Equal(t, ErrRedirectBlocked, KindOf(wrapped))
		phase, ok := PhaseOf(wrapped)
		require.True(t, ok)
		assert.Equal(t, PhaseRedirect, phase)
	})

	t.Run("unclassified error", func(t *testing.T) {
		assert.Nil(t, KindOf(io.EOF))
		_, ok := PhaseOf(io.EOF)
		assert.False(t, ok)
	})
}

func TestErrorMessage(t *testing.T) {
	err := New(ErrInvalidURL, PhaseBuild, "parse", "http://[::1", errors.New("missing ']'"))
	assert.Equal(t, "build parse: invalid url (http://[::1): missing ']'", err.Error())

	bare := New(ErrPoolExhausted, PhaseConnect, "", "", nil)
	assert.Equal(t, "connect: connection pool exhausted", bare.Error())
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseBuild, "build"},
		{PhaseConnect, "connect"},
		{PhaseRedirect, "redirect"},
		{PhaseRead, "read"},
		{Phase(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.phase.String())
		})
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "pool_exhausted", Name(New(ErrPoolExhausted, PhaseConnect, "", "", nil)))
	assert.Equal(t, "redirect_blocked", Name(fmt.Errorf("wrapped: %w", New(ErrRedirectBlocked, PhaseRedirect, "", "", nil))))
	assert.Equal(t, "unclassified", Name(io.EOF))
	assert.Empty(t, Name(nil))
}
