package wipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryContainsAllSoftwareAlgorithms(t *testing.T) {
	registry := NewRegistry(DefaultBufferSize, 0)

	expected := map[WipeAlgorithmKind]int{
		KindZeroFill:   1,
		KindRandomFill: 1,
		KindThreePass:  3,
		KindSchneier:   7,
		KindVSITR:      7,
		KindGOST:       2,
		KindGutmann:    35,
	}

	for kind, passes := range expected {
		alg, err := registry.Lookup(kind)
		require.NoErrorf(t, err, "kind %s missing", kind)
		assert.Equal(t, passes, alg.Passes(), kind.String())
		assert.False(t, alg.RequiresRawDevice(), kind.String())
		assert.True(t, alg.SupportsVerification(), kind.String())
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	registry := NewRegistry(DefaultBufferSize, 0)

	_, err := registry.Lookup(WipeAlgorithmKind(99))
	assert.Error(t, err)

	// Аппаратный алгоритм не регистрируется автоматически
	_, err = registry.Lookup(KindSecureErase)
	assert.Error(t, err)
}

func TestDescriptorsSortedByKind(t *testing.T) {
	registry := NewRegistry(DefaultBufferSize, 0)

	descriptors := registry.Descriptors()
	require.Len(t, descriptors, 7)

	for i := 1; i < len(descriptors); i++ {
		assert.Less(t, descriptors[i-1].Kind, descriptors[i].Kind)
	}

	for _, d := range descriptors {
		assert.NotEmpty(t, d.Name)
		assert.NotEmpty(t, d.Description)
		assert.Positive(t, d.Passes)
	}
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "zero-fill", KindZeroFill.String())
	assert.Equal(t, "gutmann", KindGutmann.String())
	assert.Equal(t, "secure-erase", KindSecureErase.String())
	assert.Equal(t, "unknown", WipeAlgorithmKind(42).String())
}
