package ledger

import (
	"context"
	"fmt"

	"github.com/nikodemus-eth/corvusforge/pkg/canonical"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
	"github.com/nikodemus-eth/corvusforge/pkg/crypto"
	"github.com/nikodemus-eth/corvusforge/pkg/merkle"
)

// ExportAnchor builds a contracts.Anchor summarizing a run's entries:
// a Merkle root over their entry hashes, the entry count, and the
// first entry's hash so an anchor can be matched back to the run it
// describes even if the ledger is later truncated or migrated. If
// bridge is non-nil and signingKeyHex is non-empty, the anchor is
// signed over the bytes of its anchor_hash hex string (the hash of
// every other field except signature); the canonical bytes of the
// anchor as a whole are not what is signed.
//
// A run with zero entries is not an error: it produces an anchor with
// entry_count==0, root_hash=="", and first_entry_hash=="", which
// VerifyAgainstAnchor accepts trivially.
func (l *Ledger) ExportAnchor(ctx context.Context, runID string, bridge *crypto.Bridge, signingKeyHex string) (*contracts.Anchor, error) {
	entries, err := l.entriesForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to load entries for run %s: %w", runID, err)
	}

	anchor := &contracts.Anchor{
		RunID:      runID,
		EntryCount: len(entries),
	}
	if len(entries) == 0 {
		anchor.TimestampUTC = l.clock().UTC()
	} else {
		leafHashes := make([]string, len(entries))
		for i, e := range entries {
			leafHashes[i] = e.EntryHash
		}
		anchor.RootHash = merkle.BuildRoot(leafHashes)
		anchor.FirstEntryHash = entries[0].EntryHash
		anchor.TimestampUTC = entries[len(entries)-1].TimestampUTC
	}

	anchorHash, err := hashAnchor(anchor)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to hash anchor: %w", err)
	}
	anchor.AnchorHash = anchorHash

	if bridge != nil && signingKeyHex != "" {
		sig, err := bridge.Sign([]byte(anchorHash), signingKeyHex)
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to sign anchor for run %s: %w", runID, err)
		}
		anchor.Signature = sig
	}

	return anchor, nil
}

// VerifyAgainstAnchor confirms anchor still describes a valid prefix
// of runID's current stored entries. A run grows after being
// anchored — multiple anchors per run are permitted, each a
// checkpoint — so this requires current entry_count >= anchor's, not
// equality; a smaller stored count means truncation. The root_hash and
// first_entry_hash comparisons are recomputed over exactly the first
// anchor.EntryCount entries, the prefix the anchor actually describes,
// not whatever the run has grown to since. An anchor with
// entry_count==0 is trivially valid against an empty or non-empty
// run: it only restates a checkpoint taken before any entry existed.
// If anchor carries a signature, it is also verified against
// publicKeyHex via bridge; bridge.VerifyData is the only call in this
// path that can turn a signature into "verified", so a missing or
// fail-closed bridge provider makes a signed anchor fail verification
// rather than pass it unchecked. Finally it runs VerifyChain over the
// full stored chain: the Merkle/first-hash comparisons above only
// re-derive the root from each row's already-stored entry_hash, so a
// tamper that rewrites a non-hash column (e.g. output_hash) without
// touching entry_hash or previous_entry_hash would otherwise go
// undetected; VerifyChain is what recomputes entry_hash from the rest
// of the row and catches that.
func (l *Ledger) VerifyAgainstAnchor(ctx context.Context, anchor *contracts.Anchor, bridge *crypto.Bridge, publicKeyHex string) error {
	entries, err := l.entriesForRun(ctx, anchor.RunID)
	if err != nil {
		return fmt.Errorf("ledger: failed to load entries for run %s: %w", anchor.RunID, err)
	}

	if len(entries) < anchor.EntryCount {
		return &contracts.LedgerIntegrityError{RunID: anchor.RunID, Reason: fmt.Sprintf("entry count truncated: stored %d, anchor claims %d", len(entries), anchor.EntryCount)}
	}

	if anchor.EntryCount > 0 {
		prefix := entries[:anchor.EntryCount]
		if prefix[0].EntryHash != anchor.FirstEntryHash {
			return &contracts.LedgerIntegrityError{RunID: anchor.RunID, Reason: "first_entry_hash does not match stored ledger"}
		}

		leafHashes := make([]string, len(prefix))
		for i, e := range prefix {
			leafHashes[i] = e.EntryHash
		}
		rootHash := merkle.BuildRoot(leafHashes)
		if rootHash != anchor.RootHash {
			return &contracts.LedgerIntegrityError{RunID: anchor.RunID, Reason: "root_hash does not match stored ledger"}
		}
	} else if anchor.RootHash != "" || anchor.FirstEntryHash != "" {
		return &contracts.LedgerIntegrityError{RunID: anchor.RunID, Reason: "entry_count==0 but root_hash or first_entry_hash is non-empty"}
	}

	recomputedHash, err := hashAnchor(anchor)
	if err != nil {
		return fmt.Errorf("ledger: failed to hash anchor: %w", err)
	}
	if recomputedHash != anchor.AnchorHash {
		return &contracts.LedgerIntegrityError{RunID: anchor.RunID, Reason: "anchor_hash does not match anchor fields"}
	}

	if anchor.Signature != "" {
		if bridge == nil || !bridge.VerifyData([]byte(anchor.AnchorHash), anchor.Signature, publicKeyHex) {
			return &contracts.LedgerIntegrityError{RunID: anchor.RunID, Reason: "anchor signature failed verification"}
		}
	}

	return l.VerifyChain(ctx, anchor.RunID)
}

// hashAnchor hashes the canonical bytes of every anchor field except
// signature, so the signature itself never feeds into what it signs.
func hashAnchor(a *contracts.Anchor) (string, error) {
	fields := map[string]any{
		"run_id":           a.RunID,
		"entry_count":      a.EntryCount,
		"root_hash":        a.RootHash,
		"first_entry_hash": a.FirstEntryHash,
		"timestamp_utc":    a.TimestampUTC.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
	return canonical.HashValue(fields)
}
