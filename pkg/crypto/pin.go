package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashPin returns "<salt_hex>:<sha256(salt||pin)_hex>". If salt is
// nil, 16 random bytes are generated.
func HashPin(pin string, salt []byte) (string, error) {
	if salt == nil {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("hash_pin: failed to generate salt: %w", err)
		}
	}

	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(pin))
	digest := h.Sum(nil)

	return fmt.Sprintf("%s:%s", hex.EncodeToString(salt), hex.EncodeToString(digest)), nil
}

// VerifyPin recomputes HashPin with the salt embedded in stored and
// reports whether pin matches. Malformed stored values return false,
// never an error — verification failures are always false per the
// fail-closed contract shared with VerifyData.
func VerifyPin(pin, stored string) bool {
	sep := -1
	for i := 0; i < len(stored); i++ {
		if stored[i] == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return false
	}
	saltHex, wantDigestHex := stored[:sep], stored[sep+1:]
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	recomputed, err := HashPin(pin, salt)
	if err != nil {
		return false
	}
	sep2 := -1
	for i := 0; i < len(recomputed); i++ {
		if recomputed[i] == ':' {
			sep2 = i
			break
		}
	}
	if sep2 < 0 {
		return false
	}
	gotDigestHex := recomputed[sep2+1:]
	return gotDigestHex == wantDigestHex
}
