// Package chain is the shared chained-log core: each record's digest is a
// function of the previous record's digest and the record's canonical
// payload, making retroactive edits detectable. Two strategies share the
// construction: a keyed HMAC chain for the multi-writer audit trail and an
// unkeyed SHA-256 chain for the local workspace log.
package chain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// GenesisSignature is the well-known previous-signature of the first
// record in a keyed chain.
const GenesisSignature = "0000000000000000000000000000000000000000000000000000000000000000"

// Hasher computes one link of a chain.
type Hasher interface {
	// Digest returns the chained digest of payload given the previous
	// record's stored digest.
	Digest(prev string, payload []byte) string
	// Genesis returns the previous-digest value for the first record.
	Genesis() string
}

// HMACHasher is the keyed strategy: HMAC-SHA256(secret, prev || payload).
type HMACHasher struct {
	secret []byte
}

// NewHMACHasher creates a keyed hasher. The secret must be shared by every
// signer and verifier of the same chain.
func NewHMACHasher(secret []byte) HMACHasher {
	return HMACHasher{secret: secret}
}

func (h HMACHasher) Digest(prev string, payload []byte) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(prev))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h HMACHasher) Genesis() string { return GenesisSignature }

// SHAHasher is the unkeyed strategy used by the workspace WAL. The chain
// link is SHA-256 over the canonical entry which embeds the previous hash
// explicitly, so Digest ignores prev.
type SHAHasher struct{}

func (SHAHasher) Digest(_ string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (SHAHasher) Genesis() string { return "" }

// VerifyResult reports the outcome of a full-chain verification.
// BrokenIndex is -1 when the chain is intact, so a break at position 0 is
// distinguishable from "no break".
type VerifyResult struct {
	Valid       bool   `json:"valid"`
	Total       int    `json:"total_events"`
	BrokenIndex int    `json:"broken_index"`
	Details     string `json:"details,omitempty"`
}

// Verify replays records in order, recomputing each digest from the
// immediately preceding STORED digest, and reports the first mismatch.
// The stored digest of record i-1 is authoritative input for record i:
// if i-1 itself was tampered, that is caught at i-1, not re-reported at i.
func Verify(h Hasher, payloads [][]byte, stored []string) VerifyResult {
	prev := h.Genesis()
	for i, payload := range payloads {
		want := h.Digest(prev, payload)
		if stored[i] != want {
			return VerifyResult{
				Valid:       false,
				Total:       len(payloads),
				BrokenIndex: i,
				Details:     "signature mismatch: expected " + want + ", stored " + stored[i],
			}
		}
		prev = stored[i]
	}
	return VerifyResult{Valid: true, Total: len(payloads), BrokenIndex: -1}
}
