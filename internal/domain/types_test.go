package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInvocation_UnmarshalYAML_ScalarIsBareModuleHash(t *testing.T) {
	t.Parallel()

	var list []Invocation
	require.NoError(t, yaml.Unmarshal([]byte("- abc123hash\n"), &list))

	require.Len(t, list, 1)
	assert.Equal(t, "abc123hash", list[0].ModuleHash)
	assert.Empty(t, list[0].Name)
	assert.Nil(t, list[0].Args)
}

func TestInvocation_UnmarshalYAML_MappingDecodesNormally(t *testing.T) {
	t.Parallel()

	var list []Invocation
	src := "- name: worker\n  args:\n    a: 1\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &list))

	require.Len(t, list, 1)
	assert.Equal(t, "worker", list[0].Name)
	assert.Empty(t, list[0].ModuleHash)
	assert.Equal(t, 1, list[0].Args["a"])
}

func TestInvocation_UnmarshalJSON_ScalarIsBareModuleHash(t *testing.T) {
	t.Parallel()

	var inv Invocation
	require.NoError(t, json.Unmarshal([]byte(`"abc123hash"`), &inv))

	assert.Equal(t, "abc123hash", inv.ModuleHash)
	assert.Empty(t, inv.Name)
	assert.Nil(t, inv.Args)
}

func TestInvocation_UnmarshalJSON_MappingDecodesNormally(t *testing.T) {
	t.Parallel()

	var inv Invocation
	require.NoError(t, json.Unmarshal([]byte(`{"module_hash":"h1","args":{"a":1}}`), &inv))

	assert.Equal(t, "h1", inv.ModuleHash)
	assert.Equal(t, float64(1), inv.Args["a"])
}
