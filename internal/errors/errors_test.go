package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind and message",
			err:  New(KindConfig, "max_itr is required"),
			want: "config: max_itr is required",
		},
		{
			name: "kind, op and message",
			err:  New(KindSolver, "nonzero exit status").WithOp("Evaluate"),
			want: "solver: Evaluate: nonzero exit status",
		},
		{
			name: "wrapped cause",
			err:  Wrap(stderrors.New("no such file"), KindSolver, "read result"),
			want: "solver: read result: no such file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	base := New(KindScore, "length mismatch")
	wrapped := fmt.Errorf("iteration 4: %w", base)

	assert.Equal(t, KindScore, KindOf(base))
	assert.Equal(t, KindScore, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsKind(t *testing.T) {
	err := Wrapf(stderrors.New("exit status 1"), KindSolver, "candidate %d sweep point %g", 7, 0.5)

	assert.True(t, IsKind(err, KindSolver))
	assert.False(t, IsKind(err, KindConfig))
	assert.Contains(t, err.Error(), "candidate 7 sweep point 0.5")
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, KindRestart, "scan history")

	require.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, KindRestart, "no-op"))
}
