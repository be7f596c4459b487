package plan

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedService wraps a Service with an in-process LRU cache. Plans are
// read on every invoicing call and change rarely, so a small cache in front
// of postgres removes most of the hot-path reads.
type CachedService struct {
	inner Service
	plans *lru.Cache[int64, *Plan]
	uses  *lru.Cache[int64, *UseCharge]
}

// NewCachedService creates a CachedService holding up to size plans
func NewCachedService(inner Service, size int) (*CachedService, error) {
	if size <= 0 {
		size = 1024
	}
	plans, err := lru.New[int64, *Plan](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}
	uses, err := lru.New[int64, *UseCharge](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create use charge cache: %w", err)
	}
	return &CachedService{inner: inner, plans: plans, uses: uses}, nil
}

// CreatePlan creates a plan and primes the cache
func (c *CachedService) CreatePlan(p *Plan) error {
	if err := c.inner.CreatePlan(p); err != nil {
		return err
	}
	c.plans.Add(p.ID, p)
	return nil
}

// GetPlan retrieves a plan, from cache when possible
func (c *CachedService) GetPlan(id int64) (*Plan, error) {
	if p, ok := c.plans.Get(id); ok {
		return p, nil
	}
	p, err := c.inner.GetPlan(id)
	if err != nil {
		return nil, err
	}
	c.plans.Add(id, p)
	return p, nil
}

// ListPlans lists plans for a provider; list results are not cached
func (c *CachedService) ListPlans(providerOrgID int64) ([]*Plan, error) {
	return c.inner.ListPlans(providerOrgID)
}

// GetUseCharge retrieves a use charge, from cache when possible
func (c *CachedService) GetUseCharge(id int64) (*UseCharge, error) {
	if u, ok := c.uses.Get(id); ok {
		return u, nil
	}
	u, err := c.inner.GetUseCharge(id)
	if err != nil {
		return nil, err
	}
	c.uses.Add(id, u)
	return u, nil
}

// Invalidate drops a plan from the cache
func (c *CachedService) Invalidate(id int64) {
	c.plans.Remove(id)
}

// Purge drops everything from the cache
func (c *CachedService) Purge() {
	c.plans.Purge()
	c.uses.Purge()
}
