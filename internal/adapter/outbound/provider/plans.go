package provider

import (
	"strings"

	"github.com/mailcraft/server/internal/model"
)

// PlanResolver maps provider price, product and variant IDs to plans.
type PlanResolver struct {
	byID map[string]model.Plan
}

// NewPlanResolver builds a resolver from a plan -> provider IDs catalog,
// e.g. {"pro": ["price_123", "pri_01h..", "prod_abc"]}.
func NewPlanResolver(catalog map[string][]string) *PlanResolver {
	r := &PlanResolver{byID: make(map[string]model.Plan)}
	for name, ids := range catalog {
		plan, ok := model.ParsePlan(name)
		if !ok {
			continue
		}
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				r.byID[id] = plan
			}
		}
	}
	return r
}

// Resolve returns the first paid plan matched by a candidate. A candidate may
// be a plan name carried in metadata or a catalog ID. Unknown candidates
// resolve to "".
func (r *PlanResolver) Resolve(candidates ...string) model.Plan {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if plan, ok := model.ParsePlan(c); ok && plan.IsPaid() {
			return plan
		}
		if r == nil {
			continue
		}
		if plan, ok := r.byID[c]; ok {
			return plan
		}
	}
	return ""
}
