package crypto

import (
	"encoding/hex"
	"log/slog"

	"github.com/nikodemus-eth/corvusforge/pkg/canonical"
)

// Bridge selects one Provider at construction from a fixed priority
// list and caches the selection for its lifetime, per spec: (1) a
// richer, pluggable provider if one was registered and reports itself
// real, (2) the native Ed25519 provider, (3) the fail-closed provider.
//
// VerifyData is the ONE code site in this module that can produce a
// "verified" boolean. No other function in Corvusforge may construct
// that outcome; every caller that needs a verified signature must
// route through this method.
type Bridge struct {
	selected Provider
	logger   *slog.Logger
}

// richerProvider, if non-nil, is probed before the native provider.
// Registered via RegisterRicherProvider before constructing a Bridge;
// this models "capability-based provider selection" — a runtime
// capability lookup rather than an inheritance hierarchy — without
// inventing a concrete SATL-equivalent dependency that does not appear
// anywhere in the example corpus.
var richerProvider Provider

// RegisterRicherProvider installs the richer (tier-1) provider that
// NewBridge will probe first. Passing nil clears any previously
// registered provider. Intended to be called once during process
// initialization, before any Bridge is constructed.
func RegisterRicherProvider(p Provider) {
	richerProvider = p
}

// NewBridge probes providers in priority order and caches the first
// one that reports itself real; if none do, the fail-closed provider
// is selected.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	var selected Provider
	switch {
	case richerProvider != nil && richerProvider.Real():
		selected = richerProvider
	default:
		native := NewNativeEd25519Provider()
		selected = native
	}

	return &Bridge{selected: selected, logger: logger}
}

// NewFailClosedBridge forces the fail-closed tier, for production
// configurations that must prove no real provider loaded, and for
// adversarial tests of the fail-closed contract.
func NewFailClosedBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{selected: NewFailClosedProvider(), logger: logger}
}

// ProviderName reports which tier was selected.
func (b *Bridge) ProviderName() string { return b.selected.Name() }

// IsRealProvider reports whether the selected provider can produce
// cryptographically meaningful results.
func (b *Bridge) IsRealProvider() bool { return b.selected.Real() }

// GenerateKeypair delegates to the selected provider.
func (b *Bridge) GenerateKeypair() (privateHex, publicHex string, err error) {
	return b.selected.GenerateKeypair()
}

// Sign delegates to the selected provider.
func (b *Bridge) Sign(data []byte, privateHex string) (string, error) {
	return b.selected.Sign(data, privateHex)
}

// VerifyData returns true only when the selected provider is a real
// crypto provider AND the signature is syntactically well-formed AND
// the cryptographic check succeeds. Any malformed hex, empty
// signature, missing key, or provider-unavailable condition returns
// false — never an error, and never promoted to true by a caller.
func (b *Bridge) VerifyData(data []byte, signatureHex, publicHex string) bool {
	if !b.selected.Real() {
		return false
	}
	if signatureHex == "" || publicHex == "" {
		return false
	}
	if _, err := hex.DecodeString(signatureHex); err != nil {
		return false
	}
	if _, err := hex.DecodeString(publicHex); err != nil {
		return false
	}
	return b.selected.Verify(data, signatureHex, publicHex)
}

// KeyFingerprint returns the first 16 hex characters of
// sha256_hex(publicHex's raw bytes interpretation as a UTF-8 string).
// An empty input yields an empty fingerprint, never a placeholder.
func KeyFingerprint(publicHex string) string {
	if publicHex == "" {
		return ""
	}
	digest := canonical.SHA256Hex([]byte(publicHex))
	return digest[:16]
}

// ComputeTrustContext fingerprints the three trust-root keys active
// for a run. Absent keys fingerprint to the empty string.
func ComputeTrustContext(pluginTrustRootPublicHex, waiverSigningKeyPublicHex, anchorKeyPublicHex string) (pluginFP, waiverFP, anchorFP string) {
	return KeyFingerprint(pluginTrustRootPublicHex),
		KeyFingerprint(waiverSigningKeyPublicHex),
		KeyFingerprint(anchorKeyPublicHex)
}
