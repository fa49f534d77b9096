// Package crypto implements the Crypto Bridge: a three-tier, fail-closed
// provider chain for Ed25519 signing/verification, key fingerprinting,
// and trust-context computation. Capability-based provider selection
// follows the teacher's pattern of probing adapters in priority order
// once at construction and caching the result — see pkg/governance's
// KeyProvider interface for the analogous shape.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Provider is the minimal capability every crypto tier must supply.
type Provider interface {
	// Name identifies the provider for diagnostics and trust-tier logs.
	Name() string
	// Real reports whether this provider can produce cryptographically
	// meaningful signatures. The fail-closed provider returns false.
	Real() bool
	GenerateKeypair() (privateHex, publicHex string, err error)
	Sign(data []byte, privateHex string) (signatureHex string, err error)
	Verify(data []byte, signatureHex, publicHex string) bool
}

// NativeEd25519Provider implements Provider using the standard
// library's crypto/ed25519 — the "libsodium-equivalent" native tier.
type NativeEd25519Provider struct{}

func NewNativeEd25519Provider() *NativeEd25519Provider { return &NativeEd25519Provider{} }

func (p *NativeEd25519Provider) Name() string { return "native-ed25519" }
func (p *NativeEd25519Provider) Real() bool    { return true }

func (p *NativeEd25519Provider) GenerateKeypair() (string, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("native provider: key generation failed: %w", err)
	}
	return hex.EncodeToString(priv), hex.EncodeToString(pub), nil
}

func (p *NativeEd25519Provider) Sign(data []byte, privateHex string) (string, error) {
	priv, err := hex.DecodeString(privateHex)
	if err != nil {
		return "", fmt.Errorf("native provider: invalid private key hex: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("native provider: invalid private key size %d", len(priv))
	}
	sig := ed25519.Sign(ed25519.PrivateKey(priv), data)
	return hex.EncodeToString(sig), nil
}

func (p *NativeEd25519Provider) Verify(data []byte, signatureHex, publicHex string) bool {
	pub, err := hex.DecodeString(publicHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	defer func() { recover() }() //nolint:errcheck // ed25519.Verify panics on malformed keys in some Go versions; fail closed instead
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// FailClosedProvider is the tier of last resort: every verification
// returns false and signing refuses outright. Selected by
// NewFailClosedBridge; NewBridge always finds the native provider real
// and so never falls back to this tier.
type FailClosedProvider struct{}

func NewFailClosedProvider() *FailClosedProvider { return &FailClosedProvider{} }

func (p *FailClosedProvider) Name() string { return "fail-closed" }
func (p *FailClosedProvider) Real() bool    { return false }

func (p *FailClosedProvider) GenerateKeypair() (string, string, error) {
	return "", "", fmt.Errorf("fail-closed provider: key generation refused")
}

func (p *FailClosedProvider) Sign([]byte, string) (string, error) {
	return "", fmt.Errorf("fail-closed provider: signing refused")
}

func (p *FailClosedProvider) Verify([]byte, string, string) bool {
	return false
}
