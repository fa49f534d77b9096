package ledger

import (
	"context"
	"fmt"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// VerifyChain recomputes every entry's hash and confirms the
// previous_entry_hash links form an unbroken chain from the first
// entry to the last. It returns a LedgerIntegrityError describing the
// first break found; a run with zero entries verifies trivially.
func (l *Ledger) VerifyChain(ctx context.Context, runID string) error {
	entries, err := l.entriesForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("ledger: failed to load entries for run %s: %w", runID, err)
	}

	prevHash := ""
	for i, e := range entries {
		if e.PreviousEntryHash != prevHash {
			return &contracts.LedgerIntegrityError{
				RunID:  runID,
				Reason: fmt.Sprintf("entry %d (%s) has previous_entry_hash %q, expected %q", i, e.EntryID, e.PreviousEntryHash, prevHash),
			}
		}

		wantHash, err := computeEntryHash(e)
		if err != nil {
			return fmt.Errorf("ledger: failed to recompute hash for entry %s: %w", e.EntryID, err)
		}
		if wantHash != e.EntryHash {
			return &contracts.LedgerIntegrityError{
				RunID:  runID,
				Reason: fmt.Sprintf("entry %d (%s) hash mismatch: stored %q, recomputed %q", i, e.EntryID, e.EntryHash, wantHash),
			}
		}

		if i > 0 && !e.TimestampUTC.After(entries[i-1].TimestampUTC) {
			return &contracts.LedgerIntegrityError{
				RunID:  runID,
				Reason: fmt.Sprintf("entry %d (%s) timestamp %s does not strictly follow entry %d's timestamp %s", i, e.EntryID, e.TimestampUTC, i-1, entries[i-1].TimestampUTC),
			}
		}

		prevHash = e.EntryHash
	}

	return nil
}
