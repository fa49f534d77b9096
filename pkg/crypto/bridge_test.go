package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeSelectsNativeByDefault(t *testing.T) {
	RegisterRicherProvider(nil)
	b := NewBridge(nil)
	assert.Equal(t, "native-ed25519", b.ProviderName())
	assert.True(t, b.IsRealProvider())
}

func TestBridgeSignVerifyRoundTrips(t *testing.T) {
	RegisterRicherProvider(nil)
	b := NewBridge(nil)
	priv, pub, err := b.GenerateKeypair()
	require.NoError(t, err)

	sig, err := b.Sign([]byte("hello"), priv)
	require.NoError(t, err)
	assert.True(t, b.VerifyData([]byte("hello"), sig, pub))
}

func TestBridgeVerifyDataFalseOnTamperedMessage(t *testing.T) {
	RegisterRicherProvider(nil)
	b := NewBridge(nil)
	priv, pub, err := b.GenerateKeypair()
	require.NoError(t, err)

	sig, err := b.Sign([]byte("hello"), priv)
	require.NoError(t, err)
	assert.False(t, b.VerifyData([]byte("goodbye"), sig, pub))
}

func TestBridgeVerifyDataFalseOnMalformedHex(t *testing.T) {
	RegisterRicherProvider(nil)
	b := NewBridge(nil)
	_, pub, err := b.GenerateKeypair()
	require.NoError(t, err)

	assert.False(t, b.VerifyData([]byte("hello"), "not-hex!!", pub))
	assert.False(t, b.VerifyData([]byte("hello"), "", pub))
	assert.False(t, b.VerifyData([]byte("hello"), "aa", ""))
}

func TestFailClosedBridgeAlwaysFalse(t *testing.T) {
	b := NewFailClosedBridge(nil)
	assert.False(t, b.IsRealProvider())
	assert.Equal(t, "fail-closed", b.ProviderName())

	_, _, err := b.GenerateKeypair()
	require.Error(t, err)

	_, err = b.Sign([]byte("x"), "deadbeef")
	require.Error(t, err)

	// Even a syntactically perfect, legitimately-generated signature
	// must verify false when the fail-closed tier is selected.
	real := NewBridge(nil)
	priv, pub, err := real.GenerateKeypair()
	require.NoError(t, err)
	sig, err := real.Sign([]byte("hello"), priv)
	require.NoError(t, err)
	assert.False(t, b.VerifyData([]byte("hello"), sig, pub))
}

func TestRicherProviderPreferredWhenReal(t *testing.T) {
	fake := &fakeRicherProvider{real: true}
	RegisterRicherProvider(fake)
	defer RegisterRicherProvider(nil)

	b := NewBridge(nil)
	assert.Equal(t, "fake-richer", b.ProviderName())
}

func TestRicherProviderSkippedWhenNotReal(t *testing.T) {
	fake := &fakeRicherProvider{real: false}
	RegisterRicherProvider(fake)
	defer RegisterRicherProvider(nil)

	b := NewBridge(nil)
	assert.Equal(t, "native-ed25519", b.ProviderName())
}

func TestKeyFingerprintIs16HexChars(t *testing.T) {
	fp := KeyFingerprint("deadbeef")
	assert.Len(t, fp, 16)

	assert.Equal(t, "", KeyFingerprint(""))
}

func TestComputeTrustContextEmptyForAbsentKeys(t *testing.T) {
	pluginFP, waiverFP, anchorFP := ComputeTrustContext("", "", "")
	assert.Equal(t, "", pluginFP)
	assert.Equal(t, "", waiverFP)
	assert.Equal(t, "", anchorFP)
}

func TestComputeTrustContextDiffersByKey(t *testing.T) {
	pluginFP1, _, _ := ComputeTrustContext("aaaa", "", "")
	pluginFP2, _, _ := ComputeTrustContext("bbbb", "", "")
	assert.NotEqual(t, pluginFP1, pluginFP2)
}

type fakeRicherProvider struct{ real bool }

func (f *fakeRicherProvider) Name() string { return "fake-richer" }
func (f *fakeRicherProvider) Real() bool    { return f.real }
func (f *fakeRicherProvider) GenerateKeypair() (string, string, error) {
	return "priv", "pub", nil
}
func (f *fakeRicherProvider) Sign([]byte, string) (string, error) { return "sig", nil }
func (f *fakeRicherProvider) Verify([]byte, string, string) bool   { return true }
