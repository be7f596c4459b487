package plan

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk plan catalog format, used by the admin tool to
// seed or update a provider's plans.
type CatalogFile struct {
	Provider string        `yaml:"provider"`
	Plans    []CatalogPlan `yaml:"plans"`
}

// CatalogPlan is one plan entry in the catalog file
type CatalogPlan struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	PeriodAmount int64         `yaml:"period_amount"`
	PeriodLength int           `yaml:"period_length"`
	PeriodType   string        `yaml:"period_type"`
	Unit         string        `yaml:"unit"`
	SetupAmount  int64         `yaml:"setup_amount"`
	RenewalType  string        `yaml:"renewal_type"`
	Discounts    []CatalogTier `yaml:"discounts"`
	UseCharges   []CatalogUse  `yaml:"use_charges"`
}

// CatalogTier is one advance-discount tier entry
type CatalogTier struct {
	Type   string `yaml:"type"`
	Value  int64  `yaml:"value"`
	Length int    `yaml:"length"`
}

// CatalogUse is one use-charge entry
type CatalogUse struct {
	Name       string `yaml:"name"`
	UnitAmount int64  `yaml:"unit_amount"`
}

// LoadCatalog reads and validates a YAML plan catalog
func LoadCatalog(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var cat CatalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for i := range cat.Plans {
		if err := validateCatalogPlan(&cat.Plans[i]); err != nil {
			return nil, fmt.Errorf("catalog plan %q: %w", cat.Plans[i].Name, err)
		}
	}
	return &cat, nil
}

func validateCatalogPlan(cp *CatalogPlan) error {
	if cp.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cp.PeriodAmount < 0 || cp.SetupAmount < 0 {
		return fmt.Errorf("amounts must not be negative")
	}
	if cp.PeriodLength <= 0 {
		return fmt.Errorf("period_length must be positive")
	}
	if cp.Unit == "" {
		return fmt.Errorf("unit is required")
	}
	if _, err := ParsePeriodType(cp.PeriodType); err != nil {
		return err
	}
	if _, err := ParseRenewalType(cp.RenewalType); err != nil {
		return err
	}
	prevLen := 0
	for _, t := range cp.Discounts {
		if _, err := ParseDiscountType(t.Type); err != nil {
			return err
		}
		if t.Length <= prevLen {
			return fmt.Errorf("discount tiers must have strictly ascending lengths")
		}
		prevLen = t.Length
	}
	return nil
}

// Materialize converts a catalog plan to a Plan owned by providerOrgID
func (cp *CatalogPlan) Materialize(providerOrgID int64) (*Plan, error) {
	pt, err := ParsePeriodType(cp.PeriodType)
	if err != nil {
		return nil, err
	}
	rt, err := ParseRenewalType(cp.RenewalType)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		ProviderOrgID: providerOrgID,
		Name:          cp.Name,
		Description:   cp.Description,
		PeriodAmount:  cp.PeriodAmount,
		PeriodLength:  cp.PeriodLength,
		PeriodType:    pt,
		Unit:          cp.Unit,
		SetupAmount:   cp.SetupAmount,
		RenewalType:   rt,
	}
	for _, t := range cp.Discounts {
		dt, err := ParseDiscountType(t.Type)
		if err != nil {
			return nil, err
		}
		p.AdvanceDiscounts = append(p.AdvanceDiscounts, AdvanceDiscount{
			DiscountType:  dt,
			DiscountValue: t.Value,
			Length:        t.Length,
		})
	}
	for _, u := range cp.UseCharges {
		p.UseCharges = append(p.UseCharges, UseCharge{Name: u.Name, UnitAmount: u.UnitAmount})
	}
	return p, nil
}

// Seed creates the catalog's plans that do not yet exist for the provider.
// Matching is by name; existing plans are left untouched, since repricing a
// plan that has been sold would silently change what subscribers owe. Price
// changes ship as new plans.
func Seed(svc Service, cat *CatalogFile, providerOrgID int64) (int, error) {
	existing, err := svc.ListPlans(providerOrgID)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing plans: %w", err)
	}
	byName := make(map[string]bool, len(existing))
	for _, p := range existing {
		byName[p.Name] = true
	}

	created := 0
	for i := range cat.Plans {
		if byName[cat.Plans[i].Name] {
			continue
		}
		p, err := cat.Plans[i].Materialize(providerOrgID)
		if err != nil {
			return created, fmt.Errorf("catalog plan %q: %w", cat.Plans[i].Name, err)
		}
		if err := svc.CreatePlan(p); err != nil {
			return created, fmt.Errorf("failed to create plan %q: %w", p.Name, err)
		}
		created++
	}
	return created, nil
}

// WatchCatalog watches a catalog file and invokes onChange with the freshly
// parsed catalog whenever it is rewritten. Parse errors are reported through
// onError and the previous catalog stays in effect.
func WatchCatalog(ctx context.Context, path string, onChange func(*CatalogFile), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cat, err := LoadCatalog(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cat)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
