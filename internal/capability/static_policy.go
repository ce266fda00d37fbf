package capability

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/onboard/model"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// DefaultPolicy is used when no policy file is configured. Admins get every
// capability; viewers can only read.
var DefaultPolicy = map[string][]string{
	"onboarding_admin":  {"*"},
	"onboarding_viewer": {model.CapContractorsView},
}

// StaticPolicyEvaluator resolves capabilities from a static YAML file
// mapping roles to capability strings.
type StaticPolicyEvaluator struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicyEvaluator creates a new evaluator that loads policies from
// path. An empty path selects DefaultPolicy.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewStaticPolicyEvaluatorFromRoles builds an evaluator from an in-memory
// role map. Sync is a no-op for it.
func NewStaticPolicyEvaluatorFromRoles(roles map[string][]string) *StaticPolicyEvaluator {
	return &StaticPolicyEvaluator{policy: policyFile{Roles: roles}}
}

// ResolveCapabilities returns the union of capabilities for all roles in the
// request context.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for _, c := range e.policy.Roles[role] {
			caps[c] = true
		}
	}
	return caps, nil
}

// Sync reloads the policy file from disk.
func (e *StaticPolicyEvaluator) Sync() error {
	if e.path == "" {
		e.mu.Lock()
		if e.policy.Roles == nil {
			e.policy = policyFile{Roles: DefaultPolicy}
		}
		e.mu.Unlock()
		return nil
	}

	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", e.path, err)
	}
	if len(p.Roles) == 0 {
		return fmt.Errorf("capability: policy file %s defines no roles", e.path)
	}

	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()

	return nil
}

// HealthCheck reports whether a policy is loaded.
func (e *StaticPolicyEvaluator) HealthCheck(context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.policy.Roles) == 0 {
		return fmt.Errorf("capability: no policy loaded")
	}
	return nil
}
