package assert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThat(t *testing.T) {
	require.NoError(t, That(true, "holds")())

	err := That(false, "amount is positive")()
	require.ErrorIs(t, err, ErrAssertionFailed)
	require.EqualError(t, err, "assertion failed: amount is positive")

	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, "amount is positive", f.Name)
}

func TestEventually(t *testing.T) {
	v := 0
	c := Eventually(func() bool { return v > 0 }, "v is positive")
	require.ErrorIs(t, c(), ErrAssertionFailed)
	v = 1
	require.NoError(t, c())
}

func TestElse(t *testing.T) {
	errBroke := errors.New("insufficient funds")

	err := That(false, "balance covers withdrawal").Else(errBroke)()
	require.ErrorIs(t, err, errBroke)
	require.NotErrorIs(t, err, ErrAssertionFailed)
	require.EqualError(t, err, "insufficient funds: balance covers withdrawal")

	require.NoError(t, That(true, "x").Else(errBroke)())
}

func TestAll(t *testing.T) {
	errFirst := errors.New("first")
	require.NoError(t, All()())
	require.NoError(t, All(That(true, "a"), That(true, "b"))())

	err := All(That(true, "a"), That(false, "b").Else(errFirst), That(false, "c"))()
	require.ErrorIs(t, err, errFirst)
	require.ErrorContains(t, err, "b")
}
