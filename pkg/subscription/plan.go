package subscription

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Plan is a catalog entry. Tier orders plans for upgrade and downgrade detection.
type Plan struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	Description    string          `json:"description,omitempty" yaml:"description"`
	Tier           int             `json:"tier" yaml:"tier"`
	PriceID        string          `json:"price_id,omitempty" yaml:"price_id"` // billing provider price id, defaults to ID
	Price          Money           `json:"price" yaml:"price"`
	Interval       BillingInterval `json:"interval" yaml:"interval"`
	TrialDays      int             `json:"trial_days" yaml:"trial_days"`
	IncludedTokens int64           `json:"included_tokens" yaml:"included_tokens"`
	Features       []Feature       `json:"features,omitempty" yaml:"features"`
	Public         bool            `json:"public" yaml:"public"`
}

// ProviderPriceID returns the price id sent to the billing provider.
func (p Plan) ProviderPriceID() string {
	if p.PriceID != "" {
		return p.PriceID
	}
	return p.ID
}

// HasFeature reports whether the plan grants f.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// TrialEndsAt returns when a trial of days started at startedAt ends.
func TrialEndsAt(startedAt time.Time, days int) time.Time {
	return startedAt.AddDate(0, 0, days).UTC()
}

func (p Plan) clone() Plan {
	p.Features = slices.Clone(p.Features)
	return p
}

// ChangeKind classifies a plan change.
type ChangeKind string

const (
	ChangeNew       ChangeKind = "new"
	ChangeUpgrade   ChangeKind = "upgrade"
	ChangeDowngrade ChangeKind = "downgrade"
	ChangeSame      ChangeKind = "same"
)

// PlanComparison lists what a tenant gains and loses when moving between plans.
type PlanComparison struct {
	Kind         ChangeKind
	NewFeatures  []Feature
	LostFeatures []Feature
	TokenDelta   int64 // target included tokens minus current
}

// Catalog is an immutable, validated set of plans.
type Catalog struct {
	plans map[string]Plan
	top   Plan
}

// NewCatalog validates plans and returns a catalog.
// The highest tier must be held by exactly one plan.
func NewCatalog(plans map[string]Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("catalog is empty"))
	}

	var errs []error
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	topCount := 0
	for id, p := range plans {
		switch {
		case p.ID != id:
			errs = append(errs, fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", id, p.ID))
		case p.TrialDays < 0:
			errs = append(errs, fmt.Errorf("plan %s has negative trial days: %d", id, p.TrialDays))
		case p.IncludedTokens < 0:
			errs = append(errs, fmt.Errorf("plan %s has negative included tokens: %d", id, p.IncludedTokens))
		}
		c.plans[id] = p.clone()

		switch {
		case topCount == 0 || p.Tier > c.top.Tier:
			c.top, topCount = p, 1
		case p.Tier == c.top.Tier:
			topCount++
		}
	}
	if topCount > 1 {
		errs = append(errs, fmt.Errorf("%d plans share the top tier %d", topCount, c.top.Tier))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidPlanConfiguration}, errs...)...)
	}
	c.top = c.top.clone()
	return c, nil
}

// Get returns the plan with id.
func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p.clone(), nil
}

// Top returns the highest-tier plan.
func (c *Catalog) Top() Plan {
	return c.top.clone()
}

// Plans returns all plans ordered by tier.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, id := range slices.Sorted(maps.Keys(c.plans)) {
		out = append(out, c.plans[id].clone())
	}
	slices.SortStableFunc(out, func(a, b Plan) int { return cmp.Compare(a.Tier, b.Tier) })
	return out
}

// Compare orders plans a and b by tier. Unknown ids sort first.
func (c *Catalog) Compare(a, b string) int {
	pa, okA := c.plans[a]
	pb, okB := c.plans[b]
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return cmp.Compare(pa.Tier, pb.Tier)
}

// ComparePlans describes moving from plan current to target. An empty current means a first subscription.
func (c *Catalog) ComparePlans(current, target string) (*PlanComparison, error) {
	to, err := c.Get(target)
	if err != nil {
		return nil, err
	}

	from, ok := c.plans[current]
	if !ok {
		return &PlanComparison{Kind: ChangeNew, NewFeatures: slices.Clone(to.Features), TokenDelta: to.IncludedTokens}, nil
	}

	out := &PlanComparison{TokenDelta: to.IncludedTokens - from.IncludedTokens}
	switch c.Compare(current, target) {
	case -1:
		out.Kind = ChangeUpgrade
	case 1:
		out.Kind = ChangeDowngrade
	default:
		out.Kind = ChangeSame
	}
	for _, f := range to.Features {
		if !from.HasFeature(f) {
			out.NewFeatures = append(out.NewFeatures, f)
		}
	}
	for _, f := range from.Features {
		if !to.HasFeature(f) {
			out.LostFeatures = append(out.LostFeatures, f)
		}
	}
	return out, nil
}

// upgradeCovers reports whether some plan above current includes at least required tokens.
func (c *Catalog) upgradeCovers(current string, required int64) bool {
	for id, p := range c.plans {
		if c.Compare(current, id) < 0 && p.IncludedTokens >= required {
			return true
		}
	}
	return false
}
