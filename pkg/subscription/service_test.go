package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subCols = []string{"id", "org_id", "plan_id", "created_at", "ends_at", "auto_renew"}

func TestGetActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()
	endsAt := now.AddDate(0, 1, 0)

	mock.ExpectQuery("FROM subscriptions").
		WithArgs(int64(10), int64(7), now).
		WillReturnRows(sqlmock.NewRows(subCols).AddRow(int64(3), int64(10), int64(7), now.AddDate(0, -1, 0), endsAt, true))

	sub, err := svc.GetActive(10, 7, now)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, int64(3), sub.ID)
	assert.True(t, sub.EndsAt.Equal(endsAt))
}

func TestGetActiveNoneIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM subscriptions").
		WithArgs(int64(10), int64(7), now).
		WillReturnRows(sqlmock.NewRows(subCols))

	sub, err := svc.GetActive(10, 7, now)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestListExpiring(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectQuery("auto_renew = true AND ends_at").
		WithArgs(now, 50).
		WillReturnRows(sqlmock.NewRows(subCols).
			AddRow(int64(1), int64(10), int64(7), now.AddDate(0, -2, 0), now.AddDate(0, -1, 0), true).
			AddRow(int64(2), int64(11), int64(7), now.AddDate(0, -1, 0), now.Add(-time.Hour), true))

	subs, err := svc.ListExpiring(now, 50)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpiringDefaultLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectQuery("auto_renew = true AND ends_at").
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows(subCols))

	_, err = svc.ListExpiring(now, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	endsAt := now.AddDate(0, 1, 0)
	sub := &Subscription{OrgID: 10, PlanID: 7, CreatedAt: now, EndsAt: endsAt, AutoRenew: true}

	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(10), int64(7), now, endsAt, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	require.NoError(t, CreateIn(context.Background(), db, sub))
	assert.Equal(t, int64(9), sub.ID)
}

func TestExtendIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	endsAt := time.Now().UTC().AddDate(0, 1, 0)
	mock.ExpectExec("UPDATE subscriptions SET ends_at").
		WithArgs(endsAt, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ExtendIn(context.Background(), db, 3, endsAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendInRefusesToShrink(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Coverage already extends past endsAt: the guarded UPDATE matches no
	// rows and the call is a no-op, not an error.
	endsAt := time.Now().UTC().AddDate(0, -1, 0)
	mock.ExpectExec("UPDATE subscriptions SET ends_at").
		WithArgs(endsAt, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, ExtendIn(context.Background(), db, 3, endsAt))
}

func TestLockActiveIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(10), int64(7), now).
		WillReturnRows(sqlmock.NewRows(subCols).AddRow(int64(3), int64(10), int64(7), now.AddDate(0, -1, 0), now.AddDate(0, 1, 0), false))

	sub, err := LockActiveIn(context.Background(), db, 10, 7, now)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, int64(3), sub.ID)
}
