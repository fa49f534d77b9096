// Package guard implements the Production Guard: a startup-only gate
// that refuses to let an orchestrator come up misconfigured in
// production. It runs at startup before the other components are
// wired (cmd/corvusforge runs it a second time, once the Waiver Manager
// exists, only when a supplementary policy expression is configured)
// and is never consulted during a run.
package guard

import (
	"fmt"

	"github.com/nikodemus-eth/corvusforge/pkg/config"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
	"github.com/nikodemus-eth/corvusforge/pkg/crypto"
	"github.com/nikodemus-eth/corvusforge/pkg/waiver"
)

// DefaultRequiredTrustKeys is the production default set of
// trust-config key roles the guard requires, used when
// config.Config.RequiredTrustKeys is unset. A deployment overrides
// this by setting required_trust_keys in its configuration.
var DefaultRequiredTrustKeys = []string{"plugin_trust_root", "waiver_signing_key"}

// Check evaluates cfg against the production-readiness conditions and
// the crypto bridge actually selected at startup. waiverMode reflects
// whichever SignatureMode the caller intends to construct the Waiver
// Manager with, since the guard ordinarily runs before that manager
// exists. An optional already-constructed Waiver Manager may be
// passed (wm...) to additionally evaluate cfg.SupplementaryPolicyExpr,
// reusing that manager's CEL environment rather than building a
// second one; omitting it, or leaving SupplementaryPolicyExpr empty,
// changes none of the mandatory checks below.
func Check(cfg *config.Config, bridge *crypto.Bridge, waiverMode waiver.SignatureMode, wm ...*waiver.Manager) error {
	if !cfg.IsProduction() {
		return nil
	}

	var conditions []string

	requiredKeys := cfg.RequiredTrustKeys
	if len(requiredKeys) == 0 {
		requiredKeys = DefaultRequiredTrustKeys
	}

	for _, key := range requiredKeys {
		if !trustKeyPresent(cfg, key) {
			conditions = append(conditions, fmt.Sprintf("required trust key %q is missing or empty", key))
		}
	}

	if waiverMode != waiver.ModeStrict {
		conditions = append(conditions, "waiver manager must be in strict signature mode")
	}

	if bridge == nil || !bridge.IsRealProvider() {
		conditions = append(conditions, "a real crypto provider must be selected, not the fail-closed provider")
	}

	if cfg.SupplementaryPolicyExpr != "" {
		if len(wm) == 0 || wm[0] == nil {
			conditions = append(conditions, "supplementary_policy_expr is configured but no waiver manager was supplied to evaluate it")
		} else {
			ok, err := wm[0].EvaluateCELPolicy("", "", map[string]any{"environment": string(cfg.Environment)}, cfg.SupplementaryPolicyExpr)
			if err != nil {
				conditions = append(conditions, fmt.Sprintf("supplementary_policy_expr failed to evaluate: %v", err))
			} else if !ok {
				conditions = append(conditions, "supplementary_policy_expr evaluated to false")
			}
		}
	}

	if len(conditions) > 0 {
		return &contracts.ProductionGuardError{Conditions: conditions}
	}
	return nil
}

func trustKeyPresent(cfg *config.Config, key string) bool {
	switch key {
	case "plugin_trust_root":
		return cfg.Trust.PluginTrustRootPublicHex != ""
	case "waiver_signing_key":
		return cfg.Trust.WaiverSigningKeyPublicHex != ""
	case "anchor_key":
		return cfg.Trust.AnchorKeyPublicHex != ""
	default:
		return false
	}
}
