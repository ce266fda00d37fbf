package model

import "strings"

// Capabilities checked by the admin API.
const (
	CapContractorsView     = "contractors:view"
	CapContractorsEdit     = "contractors:edit"
	CapContractorsSend     = "contractors:send"
	CapContractorsActivate = "contractors:activate"
	CapContractorsSuspend  = "contractors:suspend"
	CapThirdPartiesManage  = "third_parties:manage"
	CapTemplatesManage     = "templates:manage"
)

// CapabilitySet is the set of capabilities granted to an admin. Entries may
// be wildcards: "*" grants everything and "contractors:*" grants every
// contractor capability.
type CapabilitySet map[string]bool

// Has reports whether the set grants cap, directly or through a wildcard.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern, granted := range cs {
		if granted && matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// Missing returns the capabilities in caps that the set does not grant, in
// the order given.
func (cs CapabilitySet) Missing(caps ...string) []string {
	var out []string
	for _, c := range caps {
		if !cs.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// matchWildcard reports whether pattern covers cap. Only "*" and patterns
// ending in ":*" are wildcards; "contractors" does not cover
// "contractors:view".
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, "*")
	if !ok || !strings.HasSuffix(prefix, ":") {
		return false
	}
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the capability set of an admin request.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate drops any cached set for subjectID.
	Invalidate(subjectID string)
}

// PolicyEvaluator maps the roles carried by a request to capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)

	// Sync reloads the policy from its source.
	Sync() error
}
