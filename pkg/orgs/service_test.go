package orgs

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrganizationGeneratesSlug(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO organizations").
		WithArgs("Acme Corp!", "acme-corp", "billing@acme.test", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(5), now, now))

	org := &Organization{Name: "Acme Corp!", BillingEmail: "billing@acme.test"}
	require.NoError(t, svc.CreateOrganization(org))
	assert.Equal(t, int64(5), org.ID)
	assert.Equal(t, "acme-corp", org.Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrganization(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, name, slug").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "slug", "billing_email", "payment_token", "created_at", "updated_at"}).
			AddRow(int64(5), "Acme", "acme", "billing@acme.test", "tok_1", now, now))

	org, err := svc.GetOrganization(5)
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Slug)
	assert.Equal(t, "tok_1", org.PaymentToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrganizationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	mock.ExpectQuery("SELECT id, name, slug").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = svc.GetOrganization(99)
	assert.Error(t, err)
}

func TestResolveSubscriberNoMatchIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	mock.ExpectQuery("SELECT id, name, slug").
		WithArgs("nobody@nowhere.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	org, err := svc.ResolveSubscriber("nobody@nowhere.test")
	require.NoError(t, err)
	assert.Nil(t, org)
}

func TestCreateSubscriber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO organizations").
		WithArgs("Jane Doe", "jane", "jane@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(8), now, now))
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(8), "jane@acme.test", "Jane Doe").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	org, err := svc.CreateSubscriber("jane", "jane@acme.test", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, int64(8), org.ID)
	assert.Equal(t, "jane", org.Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPaymentToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	mock.ExpectExec("UPDATE organizations SET payment_token").
		WithArgs("tok_2", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SetPaymentToken(5, "tok_2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPaymentTokenUnknownOrg(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	mock.ExpectExec("UPDATE organizations SET payment_token").
		WithArgs("tok_2", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Error(t, svc.SetPaymentToken(99, "tok_2"))
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"Über Widgets GmbH", "ber-widgets-gmbh"},
		{"dev@acme.test", "devacmetest"},
		{"Plan 9", "plan-9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generateSlug(tt.in), "slug of %q", tt.in)
	}
}
