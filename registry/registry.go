// Package registry implements the Model & Policy Registry: the
// allow-listed model identifiers per vendor, vendor inference from a model
// string, and ID normalization.
package registry

import (
	"strings"
	"sync"

	"github.com/agentflow/llmgateway/types"
)

// PrefixRule maps a model-ID prefix to the vendor that owns it, used by
// InferVendor when the caller didn't supply one explicitly.
type PrefixRule struct {
	Prefix string
	Vendor string
}

// VendorModels is one vendor's allow-list, keyed by canonical model ID.
type VendorModels struct {
	Vendor string
	Models map[string]bool
}

// Registry holds the allow-lists for every configured vendor plus the
// prefix rules used for vendor inference. It is read-mostly after startup
// and safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	allowLists  map[string]map[string]bool // vendor (lowercased) -> model set
	prefixRules []PrefixRule
}

func New() *Registry {
	return &Registry{allowLists: make(map[string]map[string]bool)}
}

// LoadVendor replaces the allow-list for vendor with models.
func (r *Registry) LoadVendor(vendor string, models []string) {
	vendor = strings.ToLower(vendor)
	set := make(map[string]bool, len(models))
	for _, m := range models {
		set[m] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowLists[vendor] = set
}

// LoadAll is a bulk convenience wrapper over LoadVendor for configuration
// loaders that hold the allow-lists as a slice of VendorModels.
func (r *Registry) LoadAll(vendors []VendorModels) {
	for _, v := range vendors {
		models := make([]string, 0, len(v.Models))
		for m := range v.Models {
			models = append(models, m)
		}
		r.LoadVendor(v.Vendor, models)
	}
}

// LoadPrefixRules replaces the prefix-to-vendor inference table.
func (r *Registry) LoadPrefixRules(rules []PrefixRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixRules = rules
}

// InferVendor returns the vendor owning model's prefix, or "" if none
// match.
func (r *Registry) InferVendor(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.prefixRules {
		if strings.HasPrefix(model, rule.Prefix) {
			return rule.Vendor
		}
	}
	return ""
}

// Normalize strips a vendor-specific resource prefix from model, preserving
// case on the remainder. Vendor names are lowercased; model IDs
// are not.
func (r *Registry) Normalize(vendor, model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vendor = strings.ToLower(vendor)
	for _, rule := range r.prefixRules {
		if strings.ToLower(rule.Vendor) == vendor && strings.HasPrefix(model, rule.Prefix) {
			return strings.TrimPrefix(model, rule.Prefix)
		}
	}
	return model
}

// Validate reports whether model is allow-listed for vendor. An unknown
// model NEVER gets silently rewritten — callers must fail loudly and point
// the operator at the allow-list.
func (r *Registry) Validate(vendor, model string) (bool, *types.Error) {
	vendor = strings.ToLower(vendor)

	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.allowLists[vendor]
	if !ok {
		return false, types.NewError(types.ErrModelNotAllowed, "unknown vendor: "+vendor)
	}
	if !set[model] {
		return false, types.NewError(types.ErrModelNotAllowed,
			"model \""+model+"\" is not in the allow-list for vendor \""+vendor+"\"; update the registry configuration")
	}
	return true, nil
}
