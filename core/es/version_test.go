package es

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	v1, v2 := Version(1), Version(2)
	require.True(t, v1 < v2)
	require.Equal(t, v1, Version(1))

	data, err := json.Marshal(v1)
	require.NoError(t, err)
	require.Equal(t, `1`, string(data))

	var x Version
	require.NoError(t, json.Unmarshal([]byte("1234"), &x))
	require.Equal(t, Version(1234), x)
}

func TestVersion_Next(t *testing.T) {
	require.False(t, NoVersion.IsSet())
	require.Equal(t, int64(0), NoVersion.Next())
	require.True(t, Version(0).IsSet())
	require.Equal(t, int64(1), Version(0).Next())
	require.Equal(t, int64(8), Version(7).Next())
}

func TestIdentifier(t *testing.T) {
	id := NewIdentifier()
	require.False(t, id.IsZero())

	parsed, err := ParseUUIDIdentifier(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseUUIDIdentifier("not-a-uuid")
	require.ErrorIs(t, err, ErrIllegalArgument)
}
