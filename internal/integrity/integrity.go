// Package integrity signs and verifies the hash chain over the append-only
// decision log and event store. A tampered row is reported with its exact
// position; nothing is ever silently repaired.
package integrity

import (
	"errors"
	"fmt"

	"github.com/arbiterhq/arbiter/internal/chain"
	"github.com/arbiterhq/arbiter/internal/model"
)

// ErrChainBroken is returned by callers that treat a failed verification
// as fatal.
var ErrChainBroken = errors.New("hash chain is broken")

// Signer computes decision-log signatures with a keyed chain.
type Signer struct {
	hasher chain.HMACHasher
}

// NewSigner creates a Signer. The secret must stay stable for the lifetime
// of the chain; rotating it invalidates verification of older records.
func NewSigner(secret []byte) *Signer {
	return &Signer{hasher: chain.NewHMACHasher(secret)}
}

// Genesis returns the previous-signature value for the first record.
func (s *Signer) Genesis() string {
	return s.hasher.Genesis()
}

// Sign computes signature_i = HMAC(secret, prevSignature || payload).
// The payload must already be canonical JSON: key order changes must not
// change the signature.
func (s *Signer) Sign(prevSignature string, payload []byte) string {
	if prevSignature == "" {
		prevSignature = s.hasher.Genesis()
	}
	return s.hasher.Digest(prevSignature, payload)
}

// VerifyFullChain replays decision records ordered by timestamp and
// recomputes every signature from the immediately preceding stored one.
// Stops at the first mismatch.
func (s *Signer) VerifyFullChain(records []model.DecisionRecord) chain.VerifyResult {
	payloads := make([][]byte, len(records))
	stored := make([]string, len(records))
	for i, r := range records {
		payloads[i] = []byte(r.FullLogJSON)
		stored[i] = r.Signature
	}
	res := chain.Verify(s.hasher, payloads, stored)
	if !res.Valid {
		res.Details = fmt.Sprintf("decision %s: %s", records[res.BrokenIndex].DecisionID, res.Details)
	}
	return res
}

// VerifyEventChain replays stored event rows (payload hash + previous hash
// columns) with the same keyed construction, different keyspace.
func (s *Signer) VerifyEventChain(payloads [][]byte, hashes []string) chain.VerifyResult {
	return chain.Verify(s.hasher, payloads, hashes)
}
