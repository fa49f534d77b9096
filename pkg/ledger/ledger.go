// Package ledger implements the Run Ledger: an append-only,
// hash-chained log backed by a persistent relational store (SQLite by
// default, per modernc.org/sqlite — see the teacher's
// pkg/store.SQLiteReceiptStore). Append is the only write path;
// VerifyChain, ExportAnchor, and VerifyAgainstAnchor are read paths
// that never mutate a stored entry.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikodemus-eth/corvusforge/pkg/canonical"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// Ledger is the single-writer-per-run, hash-chained append log.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	clock  func() time.Time

	runLocksMu sync.Mutex
	runLocks   map[string]*sync.Mutex
}

// New wraps an already-open *sql.DB and ensures the ledger_entries
// schema exists. The schema and queries use SQLite syntax
// (AUTOINCREMENT, ? placeholders); the default composition in
// cmd/corvusforge uses modernc.org/sqlite.
func New(db *sql.DB, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		db:       db,
		logger:   logger,
		clock:    time.Now,
		runLocks: make(map[string]*sync.Mutex),
	}
	if err := l.migrate(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func (l *Ledger) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		insertion_order      INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id             TEXT NOT NULL,
		run_id               TEXT NOT NULL,
		stage_id             TEXT NOT NULL,
		from_state           TEXT NOT NULL,
		to_state             TEXT NOT NULL,
		timestamp_utc        TEXT NOT NULL,
		input_hash           TEXT NOT NULL DEFAULT '',
		output_hash          TEXT NOT NULL DEFAULT '',
		artifact_refs        TEXT NOT NULL DEFAULT '[]',
		pipeline_version     TEXT NOT NULL DEFAULT '',
		schema_version       TEXT NOT NULL DEFAULT '',
		toolchain_version    TEXT NOT NULL DEFAULT '',
		ruleset_versions     TEXT NOT NULL DEFAULT '{}',
		waiver_refs          TEXT NOT NULL DEFAULT '[]',
		trust_context        TEXT NOT NULL DEFAULT '{}',
		trust_context_version TEXT NOT NULL DEFAULT '1',
		payload_hash         TEXT NOT NULL DEFAULT '',
		previous_entry_hash  TEXT NOT NULL DEFAULT '',
		entry_hash           TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_entry_hash ON ledger_entries(entry_hash);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_run_order ON ledger_entries(run_id, insertion_order);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: migration failed: %w", err)
	}
	return nil
}

func (l *Ledger) lockFor(runID string) *sync.Mutex {
	l.runLocksMu.Lock()
	defer l.runLocksMu.Unlock()
	m, ok := l.runLocks[runID]
	if !ok {
		m = &sync.Mutex{}
		l.runLocks[runID] = m
	}
	return m
}

// AppendInput carries everything the caller supplies for a new entry;
// EntryID is generated if empty.
type AppendInput struct {
	EntryID         string
	RunID           string
	StageID         contracts.StageID
	From            contracts.StageState
	To              contracts.StageState
	InputHash       string
	OutputHash      string
	ArtifactRefs    []string
	PipelineVersion string
	SchemaVersion   string
	ToolchainVersion string
	RulesetVersions map[string]string
	WaiverRefs      []string
	TrustContext    contracts.TrustContext
	PayloadHash     string
}

// Append is the ONLY write path. It looks up the current last entry
// for run_id, seals previous_entry_hash/entry_hash, inserts the row,
// and returns the sealed entry. A failed append leaves no trace: the
// row is written by a single INSERT, so it lands whole or not at all.
// The last-entry read and the insert are not wrapped in a database
// transaction; appends for one run are serialized by a process-wide
// mutex.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (*contracts.LedgerEntry, error) {
	mu := l.lockFor(in.RunID)
	mu.Lock()
	defer mu.Unlock()

	last, err := l.lastEntry(ctx, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to read last entry for run %s: %w", in.RunID, err)
	}

	prevHash := ""
	if last != nil {
		prevHash = last.EntryHash
	}

	ts := l.clock().UTC()
	if last != nil && !ts.After(last.TimestampUTC) {
		l.logger.Warn("ledger: clock did not advance past previous entry, clamping timestamp",
			"run_id", in.RunID, "clock", ts, "previous", last.TimestampUTC)
		ts = last.TimestampUTC.Add(time.Microsecond)
	}

	entryID := in.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}

	entry := &contracts.LedgerEntry{
		EntryID: entryID,
		RunID:   in.RunID,
		StageID: in.StageID,
		StateTransition: contracts.StateTransition{
			From: in.From,
			To:   in.To,
		},
		TimestampUTC:        ts,
		InputHash:           in.InputHash,
		OutputHash:          in.OutputHash,
		ArtifactRefs:        nonNilStrings(in.ArtifactRefs),
		PipelineVersion:     in.PipelineVersion,
		SchemaVersion:       in.SchemaVersion,
		ToolchainVersion:    in.ToolchainVersion,
		RulesetVersions:     nonNilMap(in.RulesetVersions),
		WaiverRefs:          nonNilStrings(in.WaiverRefs),
		TrustContext:        in.TrustContext,
		TrustContextVersion: contracts.TrustContextVersion,
		PayloadHash:         in.PayloadHash,
		PreviousEntryHash:   prevHash,
	}

	hash, err := computeEntryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to compute entry hash: %w", err)
	}
	entry.EntryHash = hash

	if err := l.insert(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

func (l *Ledger) insert(ctx context.Context, e *contracts.LedgerEntry) error {
	artifactRefsJSON, err := json.Marshal(e.ArtifactRefs)
	if err != nil {
		return fmt.Errorf("ledger: marshal artifact_refs: %w", err)
	}
	waiverRefsJSON, err := json.Marshal(e.WaiverRefs)
	if err != nil {
		return fmt.Errorf("ledger: marshal waiver_refs: %w", err)
	}
	rulesetJSON, err := json.Marshal(e.RulesetVersions)
	if err != nil {
		return fmt.Errorf("ledger: marshal ruleset_versions: %w", err)
	}
	trustContextJSON, err := json.Marshal(e.TrustContext)
	if err != nil {
		return fmt.Errorf("ledger: marshal trust_context: %w", err)
	}

	const insertSQL = `
	INSERT INTO ledger_entries (
		entry_id, run_id, stage_id, from_state, to_state, timestamp_utc,
		input_hash, output_hash, artifact_refs,
		pipeline_version, schema_version, toolchain_version, ruleset_versions,
		waiver_refs, trust_context, trust_context_version, payload_hash,
		previous_entry_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, insertSQL,
		e.EntryID, e.RunID, string(e.StageID), string(e.StateTransition.From), string(e.StateTransition.To),
		e.TimestampUTC.Format(time.RFC3339Nano),
		e.InputHash, e.OutputHash, string(artifactRefsJSON),
		e.PipelineVersion, e.SchemaVersion, e.ToolchainVersion, string(rulesetJSON),
		string(waiverRefsJSON), string(trustContextJSON), e.TrustContextVersion, e.PayloadHash,
		e.PreviousEntryHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert failed: %w", err)
	}
	return nil
}

func (l *Ledger) lastEntry(ctx context.Context, runID string) (*contracts.LedgerEntry, error) {
	entries, err := l.entriesForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[len(entries)-1], nil
}

// EntriesForRun returns every entry of runID in strict insertion order.
func (l *Ledger) EntriesForRun(ctx context.Context, runID string) ([]*contracts.LedgerEntry, error) {
	return l.entriesForRun(ctx, runID)
}

func (l *Ledger) entriesForRun(ctx context.Context, runID string) ([]*contracts.LedgerEntry, error) {
	const q = `
	SELECT entry_id, run_id, stage_id, from_state, to_state, timestamp_utc,
	       input_hash, output_hash, artifact_refs,
	       pipeline_version, schema_version, toolchain_version, ruleset_versions,
	       waiver_refs, trust_context, trust_context_version, payload_hash,
	       previous_entry_hash, entry_hash
	FROM ledger_entries
	WHERE run_id = ?
	ORDER BY insertion_order ASC
	`
	rows, err := l.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query failed: %w", err)
	}
	defer rows.Close()

	var out []*contracts.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: row iteration failed: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (*contracts.LedgerEntry, error) {
	var (
		e                                             contracts.LedgerEntry
		stageID, fromState, toState, timestampRaw     string
		artifactRefsRaw, rulesetRaw, waiverRefsRaw     string
		trustContextRaw                                string
	)
	if err := rows.Scan(
		&e.EntryID, &e.RunID, &stageID, &fromState, &toState, &timestampRaw,
		&e.InputHash, &e.OutputHash, &artifactRefsRaw,
		&e.PipelineVersion, &e.SchemaVersion, &e.ToolchainVersion, &rulesetRaw,
		&waiverRefsRaw, &trustContextRaw, &e.TrustContextVersion, &e.PayloadHash,
		&e.PreviousEntryHash, &e.EntryHash,
	); err != nil {
		return nil, fmt.Errorf("ledger: scan failed: %w", err)
	}

	e.StageID = contracts.StageID(stageID)
	e.StateTransition = contracts.StateTransition{
		From: contracts.StageState(fromState),
		To:   contracts.StageState(toState),
	}

	ts, err := time.Parse(time.RFC3339Nano, timestampRaw)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to parse timestamp %q: %w", timestampRaw, err)
	}
	e.TimestampUTC = ts

	if err := json.Unmarshal([]byte(artifactRefsRaw), &e.ArtifactRefs); err != nil {
		return nil, fmt.Errorf("ledger: failed to parse artifact_refs: %w", err)
	}
	if err := json.Unmarshal([]byte(waiverRefsRaw), &e.WaiverRefs); err != nil {
		return nil, fmt.Errorf("ledger: failed to parse waiver_refs: %w", err)
	}
	if err := json.Unmarshal([]byte(rulesetRaw), &e.RulesetVersions); err != nil {
		return nil, fmt.Errorf("ledger: failed to parse ruleset_versions: %w", err)
	}
	if err := json.Unmarshal([]byte(trustContextRaw), &e.TrustContext); err != nil {
		return nil, fmt.Errorf("ledger: failed to parse trust_context: %w", err)
	}

	return &e, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
