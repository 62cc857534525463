package scenarios

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/storefront"
)

func TestRegistry_NvidiaBenchmark(t *testing.T) {
	assert.Contains(t, Names(), NvidiaBenchmarkName)

	script, err := Get(NvidiaBenchmarkName)
	require.NoError(t, err)
	assert.NotEmpty(t, script.Description)

	userTypes := script.UserTypes(StorefrontPages(&storefront.Context{}))
	require.Len(t, userTypes, 2)
	assert.Equal(t, "Visitor", userTypes[0].Name)
	assert.Equal(t, "Nvidia", userTypes[1].Name)
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := Get("locust-classic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), NvidiaBenchmarkName)
}

func TestRegister_Panics(t *testing.T) {
	assert.Panics(t, func() { Register(Script{Name: NvidiaBenchmarkName, UserTypes: NvidiaBenchmark}) })
	assert.Panics(t, func() { Register(Script{Name: "", UserTypes: NvidiaBenchmark}) })
	assert.Panics(t, func() { Register(Script{Name: "nameless-types"}) })
}
