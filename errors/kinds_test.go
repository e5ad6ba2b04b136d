package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfSentinels(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{Wrap(ErrValidation, "bad input"), KindValidation},
		{Wrap(ErrFileNotFound, "gone"), KindFileNotFound},
		{Wrap(ErrNotSwiftFile, "readme.md"), KindNotSwiftFile},
		{Wrap(ErrProjectNotFound, "no manifest"), KindProjectNotFound},
		{Wrap(ErrEnvironment, "no swift"), KindEnvironment},
		{Wrap(ErrTimeout, "slow"), KindTimeout},
		{Wrap(ErrSessionLost, "died"), KindSessionLost},
		{Wrap(ErrBuildError, "exit 65"), KindBuildError},
		{Wrap(ErrBuildInProgress, "locked"), KindBuildInProgress},
		{New("anything else"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err), "error %v", tc.err)
	}
}

func TestKindOfNestedWrapping(t *testing.T) {
	err := Wrapf(Wrap(ErrTimeout, "inner"), "outer layer")
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestLSPErrorClassification(t *testing.T) {
	err := NewLSPError(-32602, "invalid params")
	assert.Equal(t, KindLSPError, KindOf(err))

	var lspErr *LSPError
	require.True(t, As(err, &lspErr))
	assert.Equal(t, -32602, lspErr.Code)
	assert.Contains(t, err.Error(), "invalid params")

	// Wrapping keeps the classification.
	assert.Equal(t, KindLSPError, KindOf(Wrap(err, "request failed")))
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(Wrap(ErrSessionLost, "restart me")))
	assert.True(t, Retriable(Wrap(ErrTimeout, "again")))
	assert.False(t, Retriable(Wrap(ErrValidation, "no")))
	assert.False(t, Retriable(New("plain")))
}

func TestToEnvelope(t *testing.T) {
	env := ToEnvelope(Wrap(ErrBuildInProgress, "index build lock held"))
	assert.False(t, env.OK)
	assert.Equal(t, KindBuildInProgress, env.Kind)
	assert.Contains(t, env.Message, "lock held")
}

func TestToEnvelopeIncludesDetails(t *testing.T) {
	err := WithDetail(Wrap(ErrBuildError, "xcodebuild exited with status 65"), "sanitized output")
	env := ToEnvelope(err)
	assert.Equal(t, KindBuildError, env.Kind)
	require.NotEmpty(t, env.Details)
	assert.Contains(t, env.Details[0], "sanitized output")
}
