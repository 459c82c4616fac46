// Package policy evaluates Rego ingest policies against producer messages.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/dgca/mini-app-debugger/internal/protocol"
)

// Decisions a policy can return.
const (
	DecisionAllow = "allow"
	DecisionDrop  = "drop"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// The policy must define data.ingest_policy.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.ingest_policy.decision"),
		rego.Module("ingest_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadFile creates an engine from a policy file.
func LoadFile(ctx context.Context, path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate returns the policy decision for input.
func (e *Engine) Evaluate(ctx context.Context, input any) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// No decision defined for this input.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("policy decision is %T, want string", results[0].Expressions[0].Value)
	}
	return s, nil
}

// Allow reports whether msg should be recorded. The policy input is
//
//	{"session_id": ..., "type": "console_log" | "network_request", "entry": {...}}
//
// where entry has the wire shape of the log or network entry.
func (e *Engine) Allow(ctx context.Context, sessionID string, msg *protocol.Inbound) (bool, error) {
	raw, err := json.Marshal(msg.Entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false, fmt.Errorf("failed to encode policy input: %w", err)
	}

	decision, err := e.Evaluate(ctx, map[string]any{
		"session_id": sessionID,
		"type":       msg.Type,
		"entry":      entry,
	})
	if err != nil {
		return false, err
	}

	switch decision {
	case DecisionAllow:
		return true, nil
	case DecisionDrop:
		return false, nil
	default:
		return false, fmt.Errorf("unknown policy decision %q", decision)
	}
}
