package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_FragmentedArguments(t *testing.T) {
	var acc toolCallAccumulator
	acc.open(0, "call_9", "search")
	for _, frag := range []string{`{"que`, `ry":"go`, ` modules"}`} {
		acc.appendArgs(frag)
	}

	call, err := acc.finalize()
	require.NoError(t, err)
	assert.Equal(t, "search", call.Name)
	assert.Equal(t, "call_9", call.ProviderID)
	assert.JSONEq(t, `{"query":"go modules"}`, string(call.Arguments))
	assert.NotEmpty(t, call.ID)
	assert.False(t, acc.active, "finalize must discard the accumulator")
}

func TestAccumulator_EmptyArgumentsBecomeEmptyObject(t *testing.T) {
	var acc toolCallAccumulator
	acc.open(0, "call_1", "refresh")

	call, err := acc.finalize()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(call.Arguments))
}

func TestAccumulator_InvalidPayloadRejected(t *testing.T) {
	var acc toolCallAccumulator
	acc.open(0, "call_2", "search")
	acc.appendArgs(`{"truncated":`)

	_, err := acc.finalize()
	require.Error(t, err)
	assert.False(t, acc.active)
}

func TestAccumulator_FreshIDPerCall(t *testing.T) {
	var acc toolCallAccumulator

	acc.open(0, "call_a", "first")
	a, err := acc.finalize()
	require.NoError(t, err)

	acc.open(1, "call_b", "second")
	b, err := acc.finalize()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}
