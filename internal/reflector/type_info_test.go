package reflector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testStruct struct {
	Name string
}

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(testStruct{Name: "test"})
	require.Equal(t, "github.com/heianxing/axon-demo/internal/reflector.testStruct", ti.Name)
	require.Equal(t, "reflector.testStruct", ti.ShortName)

	// pointers share the element's info
	require.Equal(t, ti, TypeInfoOf(&testStruct{}))
	require.Equal(t, ti, TypeInfoFor[*testStruct]())
}

func TestTypeInfoOf_Nil(t *testing.T) {
	require.Equal(t, TypeInfo{}, TypeInfoOf(nil))
}

func TestTypeInfoOf_Builtin(t *testing.T) {
	require.Equal(t, "string", TypeInfoOf("x").ShortName)
}
