// Package sigver wraps the signature-verification and keyed-hashing
// primitives consumed by the protocol. The core never inspects signature
// internals; it hands (message, signature, public key) to a Verifier.
package sigver

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Verifier checks a signature over a message against a public key.
type Verifier interface {
	Verify(message, signature, publicKey []byte) bool
}

// Ed25519Verifier verifies Ed25519 signatures.
type Ed25519Verifier struct{}

// Verify reports whether signature is a valid Ed25519 signature of message
// by the holder of publicKey. Malformed keys or signatures verify as false,
// never panic.
func (Ed25519Verifier) Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// HashParams computes the HMAC-SHA256 of the concatenated parameters under
// key. Audit entries store this hash instead of raw parameters.
func HashParams(key []byte, params ...[]byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range params {
		mac.Write(p)
	}
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ClaimMessage is the canonical message an oracle signs to authorize a
// reward claim.
func ClaimMessage(subject string, timestamp int64, amount uint64) []byte {
	return []byte(fmt.Sprintf("%s:%d:%d", subject, timestamp, amount))
}

// SessionMessage is the canonical message an oracle signs to attest a
// platform session ticket.
func SessionMessage(steamID uint64, timestamp int64, sessionID []byte) []byte {
	return []byte(fmt.Sprintf("%d:%d:%s", steamID, timestamp, sessionID))
}

// WalletMessage is the canonical message a wallet key signs to prove
// linkage to a platform identity.
func WalletMessage(steamID uint64, walletKey []byte, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%d:%s:%d", steamID, hex.EncodeToString(walletKey), timestamp))
}

// MultiFactorMessage is the canonical message an oracle signs to attest a
// multi-factor evidence bundle. The variable-size evidence is folded into a
// SHA-256 digest so the signed message stays fixed-size.
func MultiFactorMessage(steamID uint64, timestamp int64, evidence ...[]byte) []byte {
	h := sha256.New()
	for _, e := range evidence {
		h.Write(e)
	}
	return []byte(fmt.Sprintf("%d:%d:%s", steamID, timestamp, hex.EncodeToString(h.Sum(nil))))
}

// AchievementMessage is the canonical message an oracle signs to attest a
// gaming achievement.
func AchievementMessage(subject, achievementID string, value uint64, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d:%d", subject, achievementID, value, timestamp))
}
