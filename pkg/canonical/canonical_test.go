package canonical

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBytesSortsKeys(t *testing.T) {
	a, err := CanonicalBytes(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	v1 := map[string]any{"x": 1, "y": []any{"a", "b"}, "z": map[string]any{"nested": true}}
	v2 := map[string]any{"z": map[string]any{"nested": true}, "y": []any{"a", "b"}, "x": 1}

	b1, err := CanonicalBytes(v1)
	require.NoError(t, err)
	b2, err := CanonicalBytes(v2)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestCanonicalBytesRejectsFractionalFloat(t *testing.T) {
	_, err := CanonicalBytes(map[string]any{"v": 3.14})
	require.Error(t, err)
}

func TestCanonicalBytesAcceptsIntegralFloat(t *testing.T) {
	b, err := CanonicalBytes(map[string]any{"v": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, `{"v":42}`, string(b))
}

func TestCanonicalBytesRejectsNaN(t *testing.T) {
	_, err := CanonicalBytes([]any{float64(1), math.NaN()})
	require.Error(t, err)
}

func TestCanonicalBytesNFCNormalizesStrings(t *testing.T) {
	nfd := "café" // combining acute accent, NFD form of "café"
	nfc := "café"

	b1, err := CanonicalBytes(map[string]any{"name": nfd})
	require.NoError(t, err)
	b2, err := CanonicalBytes(map[string]any{"name": nfc})
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestCanonicalBytesRoundTripsStruct(t *testing.T) {
	type Payload struct {
		B string `json:"b"`
		A int64  `json:"a"`
	}
	b, err := CanonicalBytes(Payload{B: "x", A: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"x"}`, string(b))
}

func TestHashValueStableAcrossKeyOrder(t *testing.T) {
	h1, err := HashValue(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := HashValue(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashValueDiffersOnContentChange(t *testing.T) {
	h1, err := HashValue(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := HashValue(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCanonicalBytesRejectsOverflowingUint64(t *testing.T) {
	_, err := CanonicalBytes(map[string]any{"v": uint64(1) << 63})
	require.Error(t, err)
}
