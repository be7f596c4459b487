package invoicing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/abacus/pkg/cart"
	"github.com/platinummonkey/abacus/pkg/coupon"
	"github.com/platinummonkey/abacus/pkg/discount"
	"github.com/platinummonkey/abacus/pkg/ledger"
	"github.com/platinummonkey/abacus/pkg/observability"
	"github.com/platinummonkey/abacus/pkg/orgs"
	"github.com/platinummonkey/abacus/pkg/period"
	"github.com/platinummonkey/abacus/pkg/plan"
	"github.com/platinummonkey/abacus/pkg/subscription"
)

// Snapshots is the statement-snapshot cache capability the engine needs.
// *ledger.SnapshotCache satisfies it; tests substitute fakes.
type Snapshots interface {
	Get(ctx context.Context, orgID int64) (*ledger.StatementSnapshot, error)
	Set(ctx context.Context, snap *ledger.StatementSnapshot) error
	Invalidate(ctx context.Context, orgID int64) error
}

// Engine resolves the full billable state for a customer at an instant:
// outstanding balance-due lines first, then every pending cart item turned
// into committed lines or prepay options.
type Engine struct {
	orgs      orgs.Service
	plans     plan.Service
	carts     cart.Service
	subs      subscription.Service
	coupons   coupon.Service
	ledger    ledger.Reader
	snapshots Snapshots
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Deps carries the engine's collaborators. Snapshots may be nil; the engine
// then skips snapshot bookkeeping and always recomputes from the ledger.
type Deps struct {
	Orgs      orgs.Service
	Plans     plan.Service
	Carts     cart.Service
	Subs      subscription.Service
	Coupons   coupon.Service
	Ledger    ledger.Reader
	Snapshots Snapshots
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewEngine creates an invoicing engine
func NewEngine(deps Deps) *Engine {
	return &Engine{
		orgs:      deps.Orgs,
		plans:     deps.Plans,
		carts:     deps.Carts,
		subs:      deps.Subs,
		coupons:   deps.Coupons,
		ledger:    deps.Ledger,
		snapshots: deps.Snapshots,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// AsInvoicables computes everything the customer could pay for right now.
// Balance-due invoicables come from the ledger, cart invoicables from pending
// items; the combined result is ordered by the subscription reference key so
// repeated calls with no intervening mutation return identical output.
func (e *Engine) AsInvoicables(ctx context.Context, q Query) ([]Invoicable, error) {
	ctx, span := otel.Tracer("abacus/invoicing").Start(ctx, "as_invoicables")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user_id", q.UserID),
		attribute.Int64("customer_org", q.CustomerOrgID),
	)

	var out []Invoicable

	if q.CustomerOrgID != 0 {
		due, err := e.BalanceDue(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve balance due: %w", err)
		}
		out = append(out, due...)
	}

	items, err := e.carts.ListPending(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending cart items: %w", err)
	}
	for _, item := range items {
		inv, err := e.itemInvoicable(ctx, q, item)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Subscription.String() < out[j].Subscription.String()
	})
	return out, nil
}

// BalanceDue turns the customer's outstanding Receivable entries into
// settle-only invoicables, one per ledger event. When an event's order lines
// still sum to its outstanding balance the original lines are reused; when
// they no longer do (partial payment, partial write-off) a single statement
// line is synthesized for the exact outstanding amount, and the divergence is
// surfaced loudly rather than papered over.
func (e *Engine) BalanceDue(ctx context.Context, q Query) ([]Invoicable, error) {
	start := time.Now()
	events, err := e.ledger.ReceivableByEvent(ctx, q.CustomerOrgID, q.At)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.BalanceComputationDuration.WithLabelValues("receivable_by_event").
			Observe(time.Since(start).Seconds())
	}

	e.refreshSnapshot(ctx, q, events)

	var out []Invoicable
	for _, eb := range events {
		ref := e.eventRef(eb.EventID)
		inv := Invoicable{
			Subscription: ref,
			PlanID:       ref.Sub.PlanID,
		}

		if eb.Outstanding == eb.OrdersTotal {
			lines, err := e.orderLines(ctx, q, eb)
			if err != nil {
				return nil, err
			}
			inv.Lines = lines
		} else {
			if e.metrics != nil {
				e.metrics.StatementDivergenceTotal.
					WithLabelValues(strconv.FormatInt(eb.ProviderOrg, 10)).Inc()
			}
			if e.logger != nil {
				e.logger.WithFields(map[string]interface{}{
					"event_id":     eb.EventID,
					"customer_org": q.CustomerOrgID,
					"provider_org": eb.ProviderOrg,
					"outstanding":  eb.Outstanding,
					"orders_total": eb.OrdersTotal,
					"unit":         eb.Unit,
				}).Warn("statement diverged from order lines, synthesizing statement line")
			}
			inv.Lines = []Line{{
				EventID:         eb.EventID,
				Descr:           fmt.Sprintf("Statement balance (%s)", eb.EventID),
				Amount:          eb.Outstanding,
				Unit:            eb.Unit,
				SubscriberOrgID: q.CustomerOrgID,
				PayerOrgID:      q.CustomerOrgID,
				ProviderOrgID:   eb.ProviderOrg,
				BalanceDue:      true,
				Statement:       true,
			}}
		}
		out = append(out, inv)
	}
	return out, nil
}

// orderLines reuses an event's original order entries as invoice lines.
// Only Receivable orig legs landing on the customer count; payment and
// write-off rows touch the same event but never its orig Receivable side.
func (e *Engine) orderLines(ctx context.Context, q Query, eb ledger.EventBalance) ([]Line, error) {
	txs, err := e.ledger.ByEventID(ctx, eb.EventID)
	if err != nil {
		return nil, err
	}
	var lines []Line
	for _, t := range txs {
		if t.OrigAccount != ledger.Receivable || t.OrigOrgID != q.CustomerOrgID {
			continue
		}
		if t.OrigUnit != eb.Unit || !t.CreatedAt.Before(q.At) {
			continue
		}
		lines = append(lines, Line{
			EventID:         t.EventID,
			Descr:           t.Descr.Text,
			Amount:          t.OrigAmount,
			Unit:            t.OrigUnit,
			SubscriberOrgID: q.CustomerOrgID,
			PayerOrgID:      q.CustomerOrgID,
			ProviderOrgID:   eb.ProviderOrg,
			BalanceDue:      true,
		})
	}
	return lines, nil
}

// refreshSnapshot compares the fresh per-unit totals against the cached
// statement and stores the fresh one. A stale cache entry is only worth a
// debug line; the per-event divergence check above is the real drift signal.
func (e *Engine) refreshSnapshot(ctx context.Context, q Query, events []ledger.EventBalance) {
	if e.snapshots == nil {
		return
	}
	fresh := &ledger.StatementSnapshot{
		OrgID:      q.CustomerOrgID,
		Balances:   make(map[string]int64),
		ComputedAt: q.At,
	}
	for _, eb := range events {
		fresh.Balances[eb.Unit] += eb.Outstanding
	}

	cached, err := e.snapshots.Get(ctx, q.CustomerOrgID)
	if err != nil && e.logger != nil {
		e.logger.WithError(err).Warn("failed to read statement snapshot")
	}
	if cached != nil && e.logger != nil {
		for unit, amount := range fresh.Balances {
			if cached.Balances[unit] != amount {
				e.logger.WithFields(map[string]interface{}{
					"customer_org": q.CustomerOrgID,
					"unit":         unit,
					"cached":       cached.Balances[unit],
					"fresh":        amount,
				}).Debug("statement snapshot stale, refreshing")
				break
			}
		}
	}
	if err := e.snapshots.Set(ctx, fresh); err != nil && e.logger != nil {
		e.logger.WithError(err).Warn("failed to store statement snapshot")
	}
}

// eventRef resolves a ledger event id back to its subscription. Events always
// carry the subscription id; if the row has since vanished the reference still
// carries the id so settlement can proceed.
func (e *Engine) eventRef(eventID string) SubscriptionRef {
	var subID int64
	if _, err := fmt.Sscanf(eventID, "sub-%d", &subID); err != nil {
		return SubscriptionRef{Kind: Committed}
	}
	if sub, err := e.subs.GetSubscription(subID); err == nil && sub != nil {
		return SubscriptionRef{Kind: Committed, Sub: *sub}
	}
	return SubscriptionRef{Kind: Committed, Sub: subscription.Subscription{ID: subID}}
}

// itemInvoicable turns one pending cart item into an invoicable: resolve the
// subscriber, find or draft the subscription, then collapse the prepay options
// to committed lines when the buyer's choice is already determined.
func (e *Engine) itemInvoicable(ctx context.Context, q Query, item *cart.Item) (*Invoicable, error) {
	p, err := e.plans.GetPlan(item.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan for cart item %d: %w", item.ID, err)
	}

	subscriberOrgID, err := e.resolveSubscriber(q, item)
	if err != nil {
		return nil, err
	}
	payerOrgID := q.CustomerOrgID
	if payerOrgID == 0 {
		payerOrgID = subscriberOrgID
	}

	existing, err := e.subs.GetActive(subscriberOrgID, p.ID, q.At)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active subscription: %w", err)
	}
	var ref SubscriptionRef
	if existing != nil {
		ref = SubscriptionRef{Kind: Committed, Sub: *existing}
	} else {
		ref = SubscriptionRef{Kind: Pending, Sub: subscription.Subscription{
			OrgID:     subscriberOrgID,
			PlanID:    p.ID,
			CreatedAt: q.At,
			EndsAt:    q.At,
			AutoRenew: p.RenewalType == plan.RenewalAutoRenew,
		}}
	}

	inv := &Invoicable{
		Subscription: ref,
		PlanID:       p.ID,
		CartItemID:   item.ID,
	}

	if item.UseChargeID != nil {
		uc, err := e.plans.GetUseCharge(*item.UseChargeID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve use charge for cart item %d: %w", item.ID, err)
		}
		inv.Lines = []Line{{
			CartItemID:      item.ID,
			EventID:         ref.EventID(),
			Descr:           fmt.Sprintf("%s x%d", uc.Name, item.Quantity),
			Amount:          uc.UnitAmount * int64(item.Quantity),
			Unit:            p.Unit,
			SubscriberOrgID: subscriberOrgID,
			PayerOrgID:      payerOrgID,
			ProviderOrgID:   p.ProviderOrgID,
		}}
		return inv, nil
	}

	// New coverage starts where the existing coverage ends, or now.
	start := q.At
	if existing != nil {
		start = existing.EndsAt
	}
	var prorated int64
	if !q.ProrateTo.IsZero() {
		prorated = period.ProratePeriod(p, start, q.ProrateTo)
	}

	var c *coupon.Coupon
	if item.CouponID != nil {
		c, err = e.coupons.GetCoupon(*item.CouponID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve coupon for cart item %d: %w", item.ID, err)
		}
	}

	opts, err := discount.Options(discount.Input{
		Plan:           p,
		ProratedAmount: prorated,
		Coupon:         c,
		Start:          start,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute options for cart item %d: %w", item.ID, err)
	}

	// Setup is charged once, on first subscription creation, whatever the
	// prepay length chosen.
	if ref.Kind == Pending && p.SetupAmount > 0 {
		for i := range opts {
			opts[i].Amount += p.SetupAmount
		}
	}
	if item.Quantity > 1 {
		for i := range opts {
			opts[i].Amount *= int64(item.Quantity)
			opts[i].Descr = fmt.Sprintf("%s (x%d)", opts[i].Descr, item.Quantity)
		}
	}

	chosen := -1
	if item.OptionIndex >= 1 && item.OptionIndex <= len(opts) {
		chosen = item.OptionIndex - 1
	} else if len(opts) == 1 {
		chosen = 0
	}

	if chosen < 0 {
		inv.Options = opts
		return inv, nil
	}

	opt := opts[chosen]
	inv.Lines = []Line{{
		CartItemID:      item.ID,
		EventID:         ref.EventID(),
		Descr:           opt.Descr,
		Amount:          opt.Amount,
		Unit:            p.Unit,
		NbPeriods:       opt.NbPeriods,
		EndsAt:          opt.EndsAt,
		SubscriberOrgID: subscriberOrgID,
		PayerOrgID:      payerOrgID,
		ProviderOrgID:   p.ProviderOrgID,
	}}
	return inv, nil
}

// resolveSubscriber determines who the purchased coverage is for. Group-buy
// items name their subscriber via SyncOn; unmatched names with an email create
// the subscriber on the fly, without one the item is unresolvable.
func (e *Engine) resolveSubscriber(q Query, item *cart.Item) (int64, error) {
	if item.SyncOn == "" {
		if q.CustomerOrgID == 0 {
			return 0, fmt.Errorf("cart item %d: %w", item.ID, ErrSubscriberNotFound)
		}
		return q.CustomerOrgID, nil
	}

	org, err := e.orgs.ResolveSubscriber(item.SyncOn)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve subscriber %q: %w", item.SyncOn, err)
	}
	if org == nil && item.Email != "" {
		org, err = e.orgs.CreateSubscriber(item.SyncOn, item.Email, item.FullName)
		if err != nil {
			return 0, fmt.Errorf("failed to create subscriber %q: %w", item.SyncOn, err)
		}
	}
	if org == nil {
		return 0, fmt.Errorf("cart item %d (%s): %w", item.ID, item.SyncOn, ErrSubscriberNotFound)
	}
	return org.ID, nil
}
