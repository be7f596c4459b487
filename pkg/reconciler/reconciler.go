// Package reconciler runs the recurring billing sweeps: extending expired
// auto-renew subscriptions, charging customers for outstanding balances,
// finishing charges the processor answered out of band, and recording
// write-offs and out-of-band payments.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/abacus/pkg/checkout"
	"github.com/platinummonkey/abacus/pkg/discount"
	"github.com/platinummonkey/abacus/pkg/invoicing"
	"github.com/platinummonkey/abacus/pkg/ledger"
	"github.com/platinummonkey/abacus/pkg/observability"
	"github.com/platinummonkey/abacus/pkg/orgs"
	"github.com/platinummonkey/abacus/pkg/plan"
	"github.com/platinummonkey/abacus/pkg/processor"
	"github.com/platinummonkey/abacus/pkg/subscription"
)

// staleChargeAfter is how long a created charge that never reached the
// processor may linger before the sweep fails it.
const staleChargeAfter = time.Hour

// defaultConcurrency bounds parallel processor lookups in CompleteCharges
const defaultConcurrency = 8

// Engine runs the reconciliation sweeps
type Engine struct {
	db          *sql.DB
	subs        subscription.Service
	plans       plan.Service
	orgs        orgs.Service
	invoicer    *invoicing.Engine
	checkouts   *checkout.Engine
	charges     *checkout.Store
	backend     processor.Backend
	snapshots   invoicing.Snapshots
	logger      *observability.Logger
	metrics     *observability.Metrics
	concurrency int
}

// Deps carries the engine's collaborators. Snapshots may be nil;
// Concurrency <= 0 uses the default.
type Deps struct {
	DB          *sql.DB
	Subs        subscription.Service
	Plans       plan.Service
	Orgs        orgs.Service
	Invoicer    *invoicing.Engine
	Checkouts   *checkout.Engine
	Charges     *checkout.Store
	Backend     processor.Backend
	Snapshots   invoicing.Snapshots
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Concurrency int
}

// NewEngine creates a reconciler engine
func NewEngine(deps Deps) *Engine {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Engine{
		db:          deps.DB,
		subs:        deps.Subs,
		plans:       deps.Plans,
		orgs:        deps.Orgs,
		invoicer:    deps.Invoicer,
		checkouts:   deps.Checkouts,
		charges:     deps.Charges,
		backend:     deps.Backend,
		snapshots:   deps.Snapshots,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		concurrency: concurrency,
	}
}

// ExtendSubscriptions renews every expired auto-renew subscription whose
// organization has a payment method on file, charging one period at the plan's
// base price. A declined charge still records the order; the subscriber's
// balance-due then offers it again. Returns the charges created.
func (e *Engine) ExtendSubscriptions(ctx context.Context, at time.Time, limit int) ([]*checkout.Charge, error) {
	subs, err := e.subs.ListExpiring(at, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	return e.renewEach(ctx, subs, at)
}

// ExtendOrganization renews one organization's lapsed auto-renew
// subscriptions on demand, the per-customer counterpart of the sweep. The
// admin tool uses it to extend and bill a single account.
func (e *Engine) ExtendOrganization(ctx context.Context, orgID int64, at time.Time) ([]*checkout.Charge, error) {
	subs, err := e.subs.ListRenewable(orgID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list renewable subscriptions: %w", err)
	}
	return e.renewEach(ctx, subs, at)
}

func (e *Engine) renewEach(ctx context.Context, subs []*subscription.Subscription, at time.Time) ([]*checkout.Charge, error) {
	var out []*checkout.Charge
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		charge, outcome, err := e.renew(ctx, sub, at)
		if e.metrics != nil {
			e.metrics.RenewalsTotal.WithLabelValues(outcome).Inc()
		}
		if err != nil {
			if e.logger != nil {
				e.logger.WithError(err).WithFields(map[string]interface{}{
					"subscription_id": sub.ID,
					"org_id":          sub.OrgID,
					"outcome":         outcome,
				}).Warn("renewal failed, continuing sweep")
			}
		}
		if charge != nil {
			out = append(out, charge)
		}
	}
	return out, nil
}

func (e *Engine) renew(ctx context.Context, sub *subscription.Subscription, at time.Time) (*checkout.Charge, string, error) {
	// Re-check before charging: a concurrent sweep or a manual purchase may
	// already have extended the coverage.
	active, err := e.subs.GetActive(sub.OrgID, sub.PlanID, at)
	if err != nil {
		return nil, "error", err
	}
	if active != nil {
		return nil, "already_covered", nil
	}

	p, err := e.plans.GetPlan(sub.PlanID)
	if err != nil {
		return nil, "error", err
	}
	org, err := e.orgs.GetOrganization(sub.OrgID)
	if err != nil {
		return nil, "error", err
	}
	if org.PaymentToken == "" {
		return nil, "no_token", nil
	}

	// Downstream logs correlate on the subscription's ledger event.
	ctx = observability.ContextWithEventID(ctx, sub.EventID())

	// Renewals extend at the plan's base price; advance tiers and coupons
	// are checkout-time choices, not sweep-time ones.
	opts, err := discount.Options(discount.Input{Plan: p, Start: sub.EndsAt})
	if err != nil {
		return nil, "error", err
	}
	base := opts[0]

	inv := invoicing.Invoicable{
		Subscription: invoicing.SubscriptionRef{Kind: invoicing.Committed, Sub: *sub},
		PlanID:       p.ID,
		Lines: []invoicing.Line{{
			EventID:         sub.EventID(),
			Descr:           base.Descr,
			Amount:          base.Amount,
			Unit:            p.Unit,
			NbPeriods:       base.NbPeriods,
			EndsAt:          base.EndsAt,
			SubscriberOrgID: sub.OrgID,
			PayerOrgID:      sub.OrgID,
			ProviderOrgID:   p.ProviderOrgID,
		}},
	}

	charge, err := e.checkouts.Checkout(ctx, []invoicing.Invoicable{inv}, checkout.Request{
		CustomerOrgID: sub.OrgID,
		At:            at,
	})
	if err != nil {
		if charge != nil {
			// Order recorded, processor declined: the balance-due path owns
			// it from here.
			return charge, "declined", err
		}
		return nil, "error", err
	}
	return charge, "extended", nil
}

// CreateChargeForBalance charges a customer's full outstanding balance using
// the payment method on file, one charge per currency unit. Zero charges is a
// valid outcome: nothing outstanding, or no token on file.
func (e *Engine) CreateChargeForBalance(ctx context.Context, customerOrgID int64, at time.Time) ([]*checkout.Charge, error) {
	org, err := e.orgs.GetOrganization(customerOrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer organization: %w", err)
	}
	if org.PaymentToken == "" {
		return nil, nil
	}

	invs, err := e.invoicer.BalanceDue(ctx, invoicing.Query{CustomerOrgID: customerOrgID, At: at})
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, nil
	}

	byUnit := make(map[string][]invoicing.Invoicable)
	var units []string
	for _, inv := range invs {
		if len(inv.Lines) == 0 {
			continue
		}
		unit := inv.Lines[0].Unit
		if _, seen := byUnit[unit]; !seen {
			units = append(units, unit)
		}
		byUnit[unit] = append(byUnit[unit], inv)
	}

	var out []*checkout.Charge
	for _, unit := range units {
		charge, err := e.checkouts.Checkout(ctx, byUnit[unit], checkout.Request{
			CustomerOrgID: customerOrgID,
			At:            at,
		})
		if err != nil {
			if charge == nil {
				return out, err
			}
			if e.logger != nil {
				e.logger.WithError(err).WithFields(map[string]interface{}{
					"customer_org": customerOrgID,
					"charge_id":    charge.ID,
					"unit":         unit,
				}).Warn("balance charge declined")
			}
		}
		if charge != nil {
			out = append(out, charge)
		}
	}
	return out, nil
}

// CompleteCharges finishes charges stuck in the created state: the processor
// is asked, outside any transaction, what became of each one. Lookups run
// concurrently but bounded.
func (e *Engine) CompleteCharges(ctx context.Context) error {
	pending, err := e.charges.ListByState(ctx, checkout.StateCreated)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, c := range pending {
		c := c
		g.Go(func() error {
			return e.completeOne(ctx, c)
		})
	}
	return g.Wait()
}

func (e *Engine) completeOne(ctx context.Context, c *checkout.Charge) error {
	state, err := e.backend.Retrieve(ctx, c.IdempotencyKey)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ProcessorErrorsTotal.WithLabelValues("retrieve").Inc()
		}
		// The processor may never have heard of it: the checkout died before
		// submitting. Fail it once it is clearly stale, otherwise leave it
		// for the next sweep.
		if time.Since(c.CreatedAt) > staleChargeAfter {
			if e.logger != nil {
				e.logger.WithError(err).WithField("charge_id", c.ID).
					Warn("stale created charge unknown to processor, failing it")
			}
			return e.checkouts.Fail(ctx, c)
		}
		return nil
	}

	switch state {
	case processor.StateSucceeded:
		return e.checkouts.Settle(ctx, c, c.IdempotencyKey)
	case processor.StateFailed:
		return e.checkouts.Fail(ctx, c)
	default:
		return nil
	}
}

// WriteOff forgives part of a customer's outstanding balance, walking events
// oldest-first and booking the forgiven amounts as provider expenses.
func (e *Engine) WriteOff(ctx context.Context, customerOrgID, amount int64, unit string, at time.Time) error {
	if err := e.settleBalance(ctx, customerOrgID, amount, unit, at, false); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.WriteOffsTotal.Inc()
		e.metrics.LedgerTransactionsTotal.WithLabelValues("write-off").Inc()
	}
	return nil
}

// OfflinePayment records money received outside the processor (a wire, a
// check) against a customer's outstanding balance, oldest events first.
func (e *Engine) OfflinePayment(ctx context.Context, customerOrgID, amount int64, unit string, at time.Time) error {
	if err := e.settleBalance(ctx, customerOrgID, amount, unit, at, true); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.OfflinePaymentsTotal.Inc()
		e.metrics.LedgerTransactionsTotal.WithLabelValues("payment").Inc()
	}
	return nil
}

// settleBalance walks the customer's outstanding events oldest-first,
// applying min(remaining, outstanding) to each until the amount is spent.
// Applying more than the total outstanding is refused before any row is
// written.
func (e *Engine) settleBalance(ctx context.Context, customerOrgID, amount int64, unit string, at time.Time, paid bool) error {
	if amount <= 0 {
		return fmt.Errorf("settlement amount must be positive")
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer tx.Rollback()

	store := ledger.NewStore(tx)
	events, err := store.ReceivableByEvent(ctx, customerOrgID, at)
	if err != nil {
		return err
	}

	var total int64
	for _, eb := range events {
		if eb.Unit == unit {
			total += eb.Outstanding
		}
	}
	if amount > total {
		return fmt.Errorf("settlement of %d exceeds outstanding %d %s: %w",
			amount, total, unit, checkout.ErrInsufficientFunds)
	}

	kind, text := "write-off", "balance write-off"
	origAccount := ledger.Expenses
	if paid {
		kind, text = "payment", "out-of-band payment"
		origAccount = ledger.Funds
	}

	remaining := amount
	for _, eb := range events {
		if eb.Unit != unit {
			continue
		}
		take := remaining
		if eb.Outstanding < take {
			take = eb.Outstanding
		}
		pair, err := ledger.NewPair(origAccount, eb.ProviderOrg,
			ledger.Receivable, customerOrgID, take, unit,
			ledger.Description{Kind: kind, Text: text, EventID: eb.EventID})
		if err != nil {
			return fmt.Errorf("failed to build settlement pair: %w", err)
		}
		if err := store.AppendPair(ctx, pair); err != nil {
			return err
		}
		remaining -= take
		if remaining == 0 {
			break
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement transaction: %w", err)
	}

	if e.snapshots != nil {
		if err := e.snapshots.Invalidate(ctx, customerOrgID); err != nil && e.logger != nil {
			e.logger.WithError(err).Warn("failed to invalidate statement snapshot")
		}
	}
	return nil
}
