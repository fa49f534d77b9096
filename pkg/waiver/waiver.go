// Package waiver implements the Waiver Manager: registration and
// lookup of signed waivers that let a blocked or failing stage
// transition proceed anyway. Scope matching generalizes beyond a bare
// stage_id+gate equality check to an optional CEL predicate
// (ScopeExpr), evaluated the way the teacher's governance package
// evaluates policy expressions — compiled once, cached, fail-closed on
// any compile or eval error.
package waiver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/nikodemus-eth/corvusforge/pkg/artifacts"
	"github.com/nikodemus-eth/corvusforge/pkg/canonical"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
	"github.com/nikodemus-eth/corvusforge/pkg/crypto"
)

// SignatureMode controls how strictly a waiver's signature must
// verify before it can be used to bypass a block.
type SignatureMode int

const (
	// ModeStrict rejects any waiver whose signature does not verify
	// against bridge's selected provider and the configured approving
	// key. This is the only mode the Production Guard permits in
	// production.
	ModeStrict SignatureMode = iota
	// ModePermissive accepts a waiver with an unverifiable signature
	// as long as it carries a non-empty signature and justification,
	// logging a warning. Intended for local/dev pipelines only.
	ModePermissive
)

// Manager tracks registered waivers and answers whether a given
// stage/gate combination has a currently valid one.
type Manager struct {
	mu      sync.RWMutex
	waivers map[string]*contracts.Waiver

	bridge          *crypto.Bridge
	approvingKeyHex string
	mode            SignatureMode
	now             func() time.Time
	store           artifacts.Store
	logger          *slog.Logger

	celEnv    *cel.Env
	progCache map[string]cel.Program
	progMu    sync.RWMutex
}

// New constructs a Manager. approvingKeyHex is the public key every
// waiver signature is checked against; bridge supplies the signature
// verification primitive, so a fail-closed bridge makes every waiver
// in strict mode unusable, by design.
func New(bridge *crypto.Bridge, approvingKeyHex string, mode SignatureMode) (*Manager, error) {
	env, err := cel.NewEnv(
		cel.Variable("stage_id", cel.StringType),
		cel.Variable("gate", cel.StringType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("waiver: failed to build CEL environment: %w", err)
	}
	return &Manager{
		waivers:         make(map[string]*contracts.Waiver),
		bridge:          bridge,
		approvingKeyHex: approvingKeyHex,
		mode:            mode,
		now:             time.Now,
		logger:          slog.Default(),
		celEnv:          env,
		progCache:       make(map[string]cel.Program),
	}, nil
}

// WithClock overrides the clock used for expiry checks, for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.now = clock
	return m
}

// WithArtifactStore makes RegisterWaiver persist every registered
// waiver (including its signature) as a content-addressed artifact.
func (m *Manager) WithArtifactStore(store artifacts.Store) *Manager {
	m.store = store
	return m
}

// WithLogger overrides the logger used to report permissive-mode
// signature failures.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// RegisterWaiver validates waiver's signature per the configured mode
// and stores it, keyed by waiver_id. Registration fails closed: a
// waiver that cannot be verified in strict mode is never stored.
func (m *Manager) RegisterWaiver(ctx context.Context, w *contracts.Waiver) error {
	if w.WaiverID == "" {
		return &contracts.WaiverSignatureError{WaiverID: w.WaiverID, Reason: "waiver_id is required"}
	}
	if w.Justification == "" {
		return &contracts.WaiverSignatureError{WaiverID: w.WaiverID, Reason: "justification is required"}
	}
	if w.Signature == "" {
		return &contracts.WaiverSignatureError{WaiverID: w.WaiverID, Reason: "signature is required"}
	}

	signedBytes, err := signedFieldsBytes(w)
	if err != nil {
		return fmt.Errorf("waiver: failed to canonicalize signed fields: %w", err)
	}

	verified := m.verifySignature(signedBytes, w.Signature)
	switch m.mode {
	case ModeStrict:
		if m.bridge == nil {
			return &contracts.WaiverSignatureError{WaiverID: w.WaiverID, Reason: "no crypto bridge configured, cannot verify in strict mode"}
		}
		if !verified {
			return &contracts.WaiverSignatureError{WaiverID: w.WaiverID, Reason: "signature failed strict verification"}
		}
	case ModePermissive:
		if !verified {
			m.logger.Warn("waiver registered with unverified signature", "waiver_id", w.WaiverID)
		}
	}

	sealed := *w
	sealed.SignatureVerified = verified

	if m.store != nil {
		fullBytes, err := canonical.CanonicalBytes(map[string]any{
			"waiver_id":          w.WaiverID,
			"scope_stage_id":     string(w.ScopeStageID),
			"scope_gate":         w.ScopeGate,
			"scope_expr":         w.ScopeExpr,
			"justification":      w.Justification,
			"approving_identity": w.ApprovingIdentity,
			"issued_at":          w.IssuedAt.UTC().Format(time.RFC3339Nano),
			"expires_at":         w.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"signature":          w.Signature,
		})
		if err != nil {
			return fmt.Errorf("waiver: failed to canonicalize stored waiver: %w", err)
		}
		if _, err := m.store.Put(ctx, fullBytes, "application/json"); err != nil {
			return fmt.Errorf("waiver: failed to persist waiver artifact: %w", err)
		}
	}

	m.mu.Lock()
	m.waivers[w.WaiverID] = &sealed
	m.mu.Unlock()
	return nil
}

// SignedFieldsBytes canonicalizes every waiver field except signature
// and signature_verified — the portion the approving identity
// actually signs. Exported so callers constructing a waiver signature
// out-of-process (or in tests) use exactly the bytes RegisterWaiver
// will check against.
func SignedFieldsBytes(w *contracts.Waiver) ([]byte, error) {
	return signedFieldsBytes(w)
}

func signedFieldsBytes(w *contracts.Waiver) ([]byte, error) {
	return canonical.CanonicalBytes(map[string]any{
		"waiver_id":          w.WaiverID,
		"scope_stage_id":     string(w.ScopeStageID),
		"scope_gate":         w.ScopeGate,
		"scope_expr":         w.ScopeExpr,
		"justification":      w.Justification,
		"approving_identity": w.ApprovingIdentity,
		"issued_at":          w.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at":         w.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
}

func (m *Manager) verifySignature(signedBytes []byte, signature string) bool {
	if m.bridge == nil || m.approvingKeyHex == "" {
		return false
	}
	return m.bridge.VerifyData(signedBytes, signature, m.approvingKeyHex)
}

// HasValidWaiver reports whether any registered, unexpired waiver
// covers stageID/gate as of now. A waiver with a non-empty ScopeExpr
// must also evaluate true for the given runtime context; a compile or
// eval failure in that predicate fails the waiver closed (it does not
// match), matching the fail-closed CEL evaluation contract the
// governance policy evaluator follows.
func (m *Manager) HasValidWaiver(ctx context.Context, stageID contracts.StageID, gate string, runtimeContext map[string]any) (*contracts.Waiver, bool) {
	m.mu.RLock()
	candidates := make([]*contracts.Waiver, 0, len(m.waivers))
	for _, w := range m.waivers {
		candidates = append(candidates, w)
	}
	m.mu.RUnlock()

	now := m.now()
	for _, w := range candidates {
		if m.mode == ModeStrict && !w.SignatureVerified {
			continue
		}
		if w.ScopeStageID != stageID {
			continue
		}
		if w.ScopeGate != "" && w.ScopeGate != gate {
			continue
		}
		if !w.ExpiresAt.IsZero() && !now.Before(w.ExpiresAt) {
			continue
		}
		if w.ScopeExpr != "" {
			matched, err := m.evalScopeExpr(w.ScopeExpr, stageID, gate, runtimeContext)
			if err != nil || !matched {
				continue
			}
		}
		return w, true
	}
	return nil, false
}

func (m *Manager) evalScopeExpr(expr string, stageID contracts.StageID, gate string, runtimeContext map[string]any) (bool, error) {
	m.progMu.RLock()
	prog, hit := m.progCache[expr]
	m.progMu.RUnlock()

	if !hit {
		m.progMu.Lock()
		if prog, hit = m.progCache[expr]; !hit {
			ast, issues := m.celEnv.Compile(expr)
			if issues != nil && issues.Err() != nil {
				m.progMu.Unlock()
				return false, fmt.Errorf("waiver: failed to compile scope_expr: %w", issues.Err())
			}
			p, err := m.celEnv.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
			if err != nil {
				m.progMu.Unlock()
				return false, fmt.Errorf("waiver: failed to build scope_expr program: %w", err)
			}
			m.progCache[expr] = p
			prog = p
		}
		m.progMu.Unlock()
	}

	if runtimeContext == nil {
		runtimeContext = map[string]any{}
	}
	out, _, err := prog.Eval(map[string]any{
		"stage_id": string(stageID),
		"gate":     gate,
		"context":  runtimeContext,
	})
	if err != nil {
		return false, fmt.Errorf("waiver: scope_expr eval failed: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("waiver: scope_expr did not evaluate to a bool")
	}
	return val, nil
}

// EvaluateCELPolicy compiles (or reuses the cached compilation of)
// expr against this Manager's CEL environment and evaluates it with
// stageID/gate/context bound the same way scope_expr is. Exported so
// the Production Guard can reuse this Manager's CEL environment for
// an optional supplementary startup policy rather than building a
// second one.
func (m *Manager) EvaluateCELPolicy(stageID contracts.StageID, gate string, runtimeContext map[string]any, expr string) (bool, error) {
	return m.evalScopeExpr(expr, stageID, gate, runtimeContext)
}

// Get returns a registered waiver by ID.
func (m *Manager) Get(waiverID string) (*contracts.Waiver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.waivers[waiverID]
	return w, ok
}
