package cart

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var itemCols = []string{"id", "user_id", "plan_id", "option_index", "use_charge_id", "quantity",
	"sync_on", "email", "full_name", "coupon_id", "recorded", "created_at"}

func TestAddItemDefaultsQuantity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO cart_items").
		WithArgs(int64(1), int64(7), 0, nil, 1, "", "", "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(4), now))

	item := &Item{UserID: 1, PlanID: 7}
	require.NoError(t, svc.AddItem(item))
	assert.Equal(t, int64(4), item.ID)
	assert.Equal(t, 1, item.Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectQuery("recorded = false").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow(int64(4), int64(1), int64(7), 0, nil, 1, "", "", "", int64(3), false, now).
			AddRow(int64(5), int64(1), int64(8), 2, nil, 3, "jane@acme.test", "", "", nil, false, now))

	items, err := svc.ListPending(1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), *items[0].CouponID)
	assert.Equal(t, 3, items[1].Quantity)
	assert.Equal(t, "jane@acme.test", items[1].SyncOn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRecordedIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE cart_items SET recorded = true").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, MarkRecordedIn(context.Background(), db, 4))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRecordedInRacingCheckout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE cart_items SET recorded = true").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = MarkRecordedIn(context.Background(), db, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already recorded")
}

func TestSelectOption(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	mock.ExpectExec("UPDATE cart_items SET option_index").
		WithArgs(2, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SelectOption(4, 2))
}

func TestRemoveItemRefusesRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	mock.ExpectExec("DELETE FROM cart_items").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Error(t, svc.RemoveItem(4))
}
