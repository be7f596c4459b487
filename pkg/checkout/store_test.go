package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chargeCols = []string{"id", "customer_org_id", "amount", "unit", "state",
	"processor_ref", "idempotency_key", "created_at", "updated_at"}

var lineCols = []string{"id", "charge_id", "event_id", "descr", "amount", "unit",
	"provider_org_id", "balance_due", "refunded_amount"}

func TestStoreCreateIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	now := time.Now().UTC()
	charge := &Charge{
		CustomerOrgID:  10,
		Amount:         2700,
		Unit:           "USD",
		State:          StateCreated,
		IdempotencyKey: "key-1",
		Lines: []ChargeLine{
			{EventID: "sub-3", Descr: "team x1", Amount: 2000, Unit: "USD", ProviderOrgID: 20},
			{EventID: "sub-4", Descr: "starter x1", Amount: 700, Unit: "USD", ProviderOrgID: 20, BalanceDue: true},
		},
	}

	mock.ExpectQuery("INSERT INTO charges").
		WithArgs(int64(10), int64(2700), "USD", "created", "", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(5), now, now))
	mock.ExpectQuery("INSERT INTO charge_lines").
		WithArgs(int64(5), "sub-3", "team x1", int64(2000), "USD", int64(20), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(51)))
	mock.ExpectQuery("INSERT INTO charge_lines").
		WithArgs(int64(5), "sub-4", "starter x1", int64(700), "USD", int64(20), true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(52)))

	require.NoError(t, store.CreateIn(context.Background(), db, charge))
	assert.Equal(t, int64(5), charge.ID)
	assert.Equal(t, int64(51), charge.Lines[0].ID)
	assert.Equal(t, int64(5), charge.Lines[1].ChargeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetCharge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM charges").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(chargeCols).
			AddRow(int64(5), int64(10), int64(2700), "USD", "done", "ch_1", "key-1", now, now))
	mock.ExpectQuery("FROM charge_lines").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(lineCols).
			AddRow(int64(51), int64(5), "sub-3", "team x1", int64(2000), "USD", int64(20), false, int64(0)))

	charge, err := store.GetCharge(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StateDone, charge.State)
	assert.Equal(t, "ch_1", charge.ProcessorRef)
	require.Len(t, charge.Lines, 1)
	assert.Equal(t, "sub-3", charge.Lines[0].EventID)
}

func TestStoreListByState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM charges").
		WithArgs("created").
		WillReturnRows(sqlmock.NewRows(chargeCols).
			AddRow(int64(5), int64(10), int64(2700), "USD", "created", "", "key-1", now, now))
	mock.ExpectQuery("FROM charge_lines").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(lineCols))

	charges, err := store.ListByState(context.Background(), StateCreated)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, "key-1", charges[0].IdempotencyKey)
}

func TestStoreTransitionIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	mock.ExpectExec("UPDATE charges").
		WithArgs("done", "ch_1", int64(5), "created").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.TransitionIn(context.Background(), db, 5, StateCreated, StateDone, "ch_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreTransitionInIllegal(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	// Illegal transitions are rejected before touching the database.
	err = store.TransitionIn(context.Background(), db, 5, StateFailed, StateDone, "")
	var itErr *InvalidTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, StateFailed, itErr.From)
}

func TestStoreTransitionInLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	mock.ExpectExec("UPDATE charges").
		WithArgs("done", "ch_1", int64(5), "created").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.TransitionIn(context.Background(), db, 5, StateCreated, StateDone, "ch_1")
	var itErr *InvalidTransitionError
	require.ErrorAs(t, err, &itErr)
}

func TestStoreLockLineIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(51)).
		WillReturnRows(sqlmock.NewRows(lineCols).
			AddRow(int64(51), int64(5), "sub-3", "team x1", int64(2000), "USD", int64(20), false, int64(500)))

	line, err := store.LockLineIn(context.Background(), db, 51)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), line.Refundable())
}

func TestStoreAddRefundIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	mock.ExpectExec("UPDATE charge_lines SET refunded_amount").
		WithArgs(int64(500), int64(51)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.AddRefundIn(context.Background(), db, 51, 500))
	assert.NoError(t, mock.ExpectationsWereMet())
}
