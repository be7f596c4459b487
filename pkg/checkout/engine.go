// Package checkout turns committed invoice lines into ledger entries and a
// payment-processor charge. The order is recorded and coverage extended
// before the processor is contacted; a processor failure marks the charge
// failed but never unwinds the order, which the balance-due path then offers
// for settlement again.
package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/abacus/pkg/cart"
	"github.com/platinummonkey/abacus/pkg/invoicing"
	"github.com/platinummonkey/abacus/pkg/ledger"
	"github.com/platinummonkey/abacus/pkg/observability"
	"github.com/platinummonkey/abacus/pkg/orgs"
	"github.com/platinummonkey/abacus/pkg/processor"
	"github.com/platinummonkey/abacus/pkg/subscription"
)

// Request carries the payer context for a checkout
type Request struct {
	UserID        int64
	CustomerOrgID int64
	At            time.Time
	// Token is the processor payment token to charge. Empty falls back to
	// the token on file for the customer organization.
	Token string
	// RememberToken stores the token on the organization after a successful
	// charge, enabling auto-renewal.
	RememberToken bool
}

// Engine executes checkouts and refunds
type Engine struct {
	db        *sql.DB
	store     *Store
	orgs      orgs.Service
	backend   processor.Backend
	snapshots invoicing.Snapshots
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Deps carries the engine's collaborators. Snapshots may be nil.
type Deps struct {
	DB        *sql.DB
	Store     *Store
	Orgs      orgs.Service
	Backend   processor.Backend
	Snapshots invoicing.Snapshots
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// log resolves the logger for one billing operation: a sweep-scoped logger
// on the context wins over the engine's own, and both get annotated with the
// billing identifiers the context carries. May return nil.
func (e *Engine) log(ctx context.Context) *observability.Logger {
	base := observability.LoggerFrom(ctx)
	if base == nil {
		base = e.logger
	}
	return observability.BillingLogger(ctx, base)
}

// NewEngine creates a checkout engine
func NewEngine(deps Deps) *Engine {
	return &Engine{
		db:        deps.DB,
		store:     deps.Store,
		orgs:      deps.Orgs,
		backend:   deps.Backend,
		snapshots: deps.Snapshots,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// Checkout records the order for every committed line, creates the charge,
// and contacts the processor. Invoicables still offering options are skipped;
// the buyer has not chosen yet.
//
// The returned charge is non-nil whenever the order was recorded, even when
// the processor declined: the caller can inspect its state.
func (e *Engine) Checkout(ctx context.Context, invs []invoicing.Invoicable, req Request) (*Charge, error) {
	ctx, span := otel.Tracer("abacus/checkout").Start(ctx, "checkout")
	defer span.End()
	span.SetAttributes(attribute.Int64("customer_org", req.CustomerOrgID))
	ctx = observability.ContextWithCustomerOrg(ctx, req.CustomerOrgID)

	started := time.Now()

	var chargeable []invoicing.Invoicable
	var total int64
	unit := ""
	for _, inv := range invs {
		if len(inv.Lines) == 0 {
			continue
		}
		for _, line := range inv.Lines {
			if unit == "" {
				unit = line.Unit
			} else if line.Unit != unit {
				return nil, fmt.Errorf("checkout spans units %q and %q: %w", unit, line.Unit, ledger.ErrMixedUnit)
			}
			total += line.Amount
		}
		chargeable = append(chargeable, inv)
	}
	if len(chargeable) == 0 {
		return nil, ErrNothingToCharge
	}

	charge, err := e.recordOrder(ctx, chargeable, req, total, unit)
	if err != nil {
		e.observeCheckout(started, "record_failed")
		return nil, err
	}

	if total == 0 {
		// Fully discounted balance settlement; nothing to collect.
		if err := e.Settle(ctx, charge, ""); err != nil {
			e.observeCheckout(started, "settle_failed")
			return charge, err
		}
		e.observeCheckout(started, "done")
		return charge, nil
	}

	token := req.Token
	if token == "" {
		org, err := e.orgs.GetOrganization(req.CustomerOrgID)
		if err != nil {
			return charge, fmt.Errorf("failed to load customer organization: %w", err)
		}
		token = org.PaymentToken
	}

	ref, chargeErr := e.backend.Charge(ctx, total, unit, token, charge.IdempotencyKey)
	if chargeErr != nil {
		span.RecordError(chargeErr)
		if e.metrics != nil {
			e.metrics.ProcessorErrorsTotal.WithLabelValues("charge").Inc()
		}
		if logger := e.log(ctx); logger != nil {
			logger.WithError(chargeErr).WithFields(map[string]interface{}{
				"charge_id": charge.ID,
				"amount":    total,
				"unit":      unit,
			}).Warn("processor declined charge, order stays recorded")
		}
		if err := e.Fail(ctx, charge); err != nil {
			return charge, err
		}
		e.observeCheckout(started, "declined")
		return charge, fmt.Errorf("charge declined: %w", chargeErr)
	}

	if err := e.Settle(ctx, charge, ref); err != nil {
		e.observeCheckout(started, "settle_failed")
		return charge, err
	}

	if req.RememberToken && req.Token != "" {
		if err := e.orgs.SetPaymentToken(req.CustomerOrgID, req.Token); err != nil {
			// The payment went through; a token we failed to store is a
			// warning, not a checkout failure.
			if logger := e.log(ctx); logger != nil {
				logger.WithError(err).Warn("failed to store payment token")
			}
		}
	}

	e.observeCheckout(started, "done")
	return charge, nil
}

// recordOrder runs the first checkout transaction: persist subscriptions,
// append order pairs, mark cart items recorded, insert the created charge.
func (e *Engine) recordOrder(ctx context.Context, invs []invoicing.Invoicable, req Request, total int64, unit string) (*Charge, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin checkout transaction: %w", err)
	}
	defer tx.Rollback()

	writer := ledger.NewStore(tx)
	charge := &Charge{
		CustomerOrgID:  req.CustomerOrgID,
		Amount:         total,
		Unit:           unit,
		State:          StateCreated,
		IdempotencyKey: uuid.NewString(),
	}

	for _, inv := range invs {
		eventID, err := e.persistSubscription(ctx, tx, inv, req.At)
		if err != nil {
			return nil, err
		}

		recorded := false
		for _, line := range inv.Lines {
			if line.EventID == "" {
				line.EventID = eventID
			}
			if !line.BalanceDue {
				if err := appendOrderPairs(ctx, writer, line); err != nil {
					return nil, err
				}
			}
			if line.CartItemID != 0 && !recorded {
				if err := cart.MarkRecordedIn(ctx, tx, line.CartItemID); err != nil {
					return nil, err
				}
				recorded = true
			}
			charge.Lines = append(charge.Lines, ChargeLine{
				EventID:       line.EventID,
				Descr:         line.Descr,
				Amount:        line.Amount,
				Unit:          line.Unit,
				ProviderOrgID: line.ProviderOrgID,
				BalanceDue:    line.BalanceDue,
			})
		}
	}

	if err := e.store.CreateIn(ctx, tx, charge); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit checkout transaction: %w", err)
	}
	if e.metrics != nil {
		e.metrics.LedgerTransactionsTotal.WithLabelValues("order").Inc()
		e.metrics.ChargeAmount.WithLabelValues(unit).Observe(float64(total))
	}
	return charge, nil
}

// persistSubscription makes the invoicable's subscription durable and extends
// its coverage per the charged line. The active row is re-read under lock
// inside the transaction; the invoicing-time read is never trusted here.
func (e *Engine) persistSubscription(ctx context.Context, tx *sql.Tx, inv invoicing.Invoicable, at time.Time) (string, error) {
	endsAt := time.Time{}
	for _, line := range inv.Lines {
		if line.EndsAt.After(endsAt) {
			endsAt = line.EndsAt
		}
	}

	sub := inv.Subscription.Sub
	locked, err := subscription.LockActiveIn(ctx, tx, sub.OrgID, sub.PlanID, at)
	if err != nil {
		return "", err
	}
	switch {
	case locked != nil:
		if !endsAt.IsZero() {
			if err := subscription.ExtendIn(ctx, tx, locked.ID, endsAt); err != nil {
				return "", err
			}
		}
		return locked.EventID(), nil
	case inv.Subscription.Kind == invoicing.Committed && sub.ID != 0:
		// Known subscription whose coverage lapsed between invoicing and
		// checkout; extend the existing row rather than creating a sibling.
		if !endsAt.IsZero() {
			if err := subscription.ExtendIn(ctx, tx, sub.ID, endsAt); err != nil {
				return "", err
			}
		}
		return sub.EventID(), nil
	default:
		draft := sub
		if !endsAt.IsZero() {
			draft.EndsAt = endsAt
		}
		if err := subscription.CreateIn(ctx, tx, &draft); err != nil {
			return "", err
		}
		return draft.EventID(), nil
	}
}

// appendOrderPairs appends the two rows of an order event: the receivable
// raised against the payer, and the provider's backlog-to-income recognition.
func appendOrderPairs(ctx context.Context, writer ledger.Writer, line invoicing.Line) error {
	descr := ledger.Description{Kind: "order", Text: line.Descr, EventID: line.EventID}

	receivable, err := ledger.NewPair(ledger.Receivable, line.PayerOrgID,
		ledger.Payable, line.ProviderOrgID, line.Amount, line.Unit, descr)
	if err != nil {
		return fmt.Errorf("failed to build order pair: %w", err)
	}
	if err := writer.AppendPair(ctx, receivable); err != nil {
		return err
	}

	recognition, err := ledger.NewPair(ledger.Backlog, line.ProviderOrgID,
		ledger.Income, line.ProviderOrgID, line.Amount, line.Unit, descr)
	if err != nil {
		return fmt.Errorf("failed to build recognition pair: %w", err)
	}
	return writer.AppendPair(ctx, recognition)
}

// Settle runs the settlement transaction: mark the charge done and append one
// payment pair per line, settling each event's receivable. The reconciler
// also calls this when it finds a created charge the processor reports as
// succeeded.
func (e *Engine) Settle(ctx context.Context, charge *Charge, processorRef string) error {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer tx.Rollback()

	if err := e.store.TransitionIn(ctx, tx, charge.ID, StateCreated, StateDone, processorRef); err != nil {
		return err
	}

	writer := ledger.NewStore(tx)
	for _, line := range charge.Lines {
		if line.Amount == 0 {
			continue
		}
		pair, err := ledger.NewPair(ledger.Funds, line.ProviderOrgID,
			ledger.Receivable, charge.CustomerOrgID, line.Amount, line.Unit,
			ledger.Description{Kind: "payment", Text: line.Descr, EventID: line.EventID})
		if err != nil {
			return fmt.Errorf("failed to build payment pair: %w", err)
		}
		if err := writer.AppendPair(ctx, pair); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement transaction: %w", err)
	}

	charge.State = StateDone
	charge.ProcessorRef = processorRef
	if e.metrics != nil {
		e.metrics.LedgerTransactionsTotal.WithLabelValues("payment").Inc()
		e.metrics.ChargesTotal.WithLabelValues(string(StateDone)).Inc()
	}
	e.invalidateSnapshot(ctx, charge.CustomerOrgID)
	return nil
}

// transition flips the charge state in its own transaction
func (e *Engine) transition(ctx context.Context, charge *Charge, to ChargeState, processorRef string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer tx.Rollback()
	if err := e.store.TransitionIn(ctx, tx, charge.ID, charge.State, to, processorRef); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	charge.State = to
	return nil
}

// Fail marks a created charge as failed without touching the ledger; the
// recorded order stays and surfaces through the balance-due path.
func (e *Engine) Fail(ctx context.Context, charge *Charge) error {
	if err := e.transition(ctx, charge, StateFailed, ""); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.ChargesTotal.WithLabelValues(string(StateFailed)).Inc()
	}
	e.invalidateSnapshot(ctx, charge.CustomerOrgID)
	return nil
}

// Refund returns part of a charge line's money. The refundable remainder is
// re-read under lock; the ledger refund pair is committed before the
// processor is asked, mirroring the order-before-charge asymmetry.
func (e *Engine) Refund(ctx context.Context, chargeID, lineID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive")
	}
	charge, err := e.store.GetCharge(ctx, chargeID)
	if err != nil {
		return err
	}
	if charge.State != StateDone && charge.State != StateDisputed {
		return fmt.Errorf("charge %d is %s, only settled charges can be refunded", chargeID, charge.State)
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin refund transaction: %w", err)
	}
	defer tx.Rollback()

	line, err := e.store.LockLineIn(ctx, tx, lineID)
	if err != nil {
		return err
	}
	if line.ChargeID != chargeID {
		return fmt.Errorf("charge line %d does not belong to charge %d", lineID, chargeID)
	}
	if amount > line.Refundable() {
		return fmt.Errorf("refund of %d exceeds refundable %d: %w", amount, line.Refundable(), ErrInsufficientFunds)
	}

	pair, err := ledger.NewPair(ledger.Refund, line.ProviderOrgID,
		ledger.Funds, line.ProviderOrgID, amount, line.Unit,
		ledger.Description{Kind: "refund", Text: line.Descr, EventID: line.EventID})
	if err != nil {
		return fmt.Errorf("failed to build refund pair: %w", err)
	}
	if err := ledger.NewStore(tx).AppendPair(ctx, pair); err != nil {
		return err
	}
	if err := e.store.AddRefundIn(ctx, tx, lineID, amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund transaction: %w", err)
	}

	if err := e.backend.Refund(ctx, charge.ProcessorRef, amount); err != nil {
		if e.metrics != nil {
			e.metrics.ProcessorErrorsTotal.WithLabelValues("refund").Inc()
			e.metrics.RefundsTotal.WithLabelValues("failed").Inc()
		}
		if e.logger != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"charge_id": chargeID,
				"line_id":   lineID,
				"amount":    amount,
			}).Error("processor refund failed after ledger commit, needs operator attention")
		}
		return fmt.Errorf("processor refund failed: %w", err)
	}

	if e.metrics != nil {
		e.metrics.LedgerTransactionsTotal.WithLabelValues("refund").Inc()
		e.metrics.RefundsTotal.WithLabelValues("done").Inc()
	}
	e.invalidateSnapshot(ctx, charge.CustomerOrgID)
	return nil
}

// MarkDisputed flags a settled charge as disputed
func (e *Engine) MarkDisputed(ctx context.Context, chargeID int64) error {
	charge, err := e.store.GetCharge(ctx, chargeID)
	if err != nil {
		return err
	}
	if err := e.transition(ctx, charge, StateDisputed, ""); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.ChargesTotal.WithLabelValues(string(StateDisputed)).Inc()
	}
	return nil
}

func (e *Engine) invalidateSnapshot(ctx context.Context, orgID int64) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.Invalidate(ctx, orgID); err != nil && e.logger != nil {
		e.logger.WithError(err).Warn("failed to invalidate statement snapshot")
	}
}

func (e *Engine) observeCheckout(started time.Time, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.CheckoutDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}
