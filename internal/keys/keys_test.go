package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/pixcache/internal/models"
)

func TestGenerate_Deterministic(t *testing.T) {
	tests := []struct {
		name       string
		namespace  string
		identifier string
		params     Params
	}{
		{"no params", "image", "cat.jpg", nil},
		{"with params", "image", "cat.jpg", ImageParams(300, 200, "webp", 80)},
		{"url identifier", "origin", "https://example.com:8080/a/b.png", Params{"w": "10"}},
		{"escaped chars", "ns%1", "id:with:colons%3A", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := Generate(tt.namespace, tt.identifier, tt.params)
			require.NoError(t, err)
			second, err := Generate(tt.namespace, tt.identifier, tt.params)
			require.NoError(t, err)
			assert.Equal(t, first, second)

			parsed, err := Parse(first)
			require.NoError(t, err)
			assert.Equal(t, tt.namespace, parsed.Namespace)
			assert.Equal(t, tt.identifier, parsed.Identifier)
			if len(tt.params) > 0 {
				assert.Len(t, parsed.ParamsHash, 16)
			} else {
				assert.Empty(t, parsed.ParamsHash)
			}
		})
	}
}

func TestGenerate_ParamOrderDoesNotMatter(t *testing.T) {
	a := Params{"w": "100", "h": "50", "f": "png"}
	b := Params{"f": "png", "h": "50", "w": "100"}

	ka, err := Generate("image", "x", a)
	require.NoError(t, err)
	kb, err := Generate("image", "x", b)
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.Equal(t, "f=png&h=50&w=100", SerializeParams(a))
}

func TestGenerate_DifferentParamsDiffer(t *testing.T) {
	k1, err := Generate("image", "x", ImageParams(100, 0, "", 0))
	require.NoError(t, err)
	k2, err := Generate("image", "x", ImageParams(200, 0, "", 0))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestGenerate_RejectsEmptyParts(t *testing.T) {
	_, err := Generate("", "id", nil)
	assert.ErrorIs(t, err, models.ErrEmptyNamespace)

	_, err = Generate("ns", "", nil)
	assert.ErrorIs(t, err, models.ErrEmptyIdentifier)
}

func TestParse_Invalid(t *testing.T) {
	for _, key := range []string{"", "onlyone", "a:b:c:d", ":id"} {
		_, err := Parse(key)
		assert.ErrorIs(t, err, models.ErrInvalidKey, key)
	}
}

func TestHash_Stable(t *testing.T) {
	assert.Equal(t, Hash("w=1"), Hash("w=1"))
	assert.NotEqual(t, Hash("w=1"), Hash("w=2"))
	assert.Len(t, Hash(""), 16)
}
