package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"postgres://r1/db", []string{"postgres://r1/db"}},
		{"postgres://r1/db,postgres://r2/db", []string{"postgres://r1/db", "postgres://r2/db"}},
		{" postgres://r1/db , postgres://r2/db ", []string{"postgres://r1/db", "postgres://r2/db"}},
		{",,", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseReplicaURLs(tt.in), "input %q", tt.in)
	}
}

func TestReplicaFallsBackToPrimary(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cm := &ConnectionManager{primary: db}
	assert.Same(t, db, cm.Replica())
	assert.Same(t, db, cm.Primary())
}

func TestReplicaRoundRobin(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	r1, _, err := sqlmock.New()
	require.NoError(t, err)
	defer r1.Close()
	r2, _, err := sqlmock.New()
	require.NoError(t, err)
	defer r2.Close()

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1, r2}}

	seen := map[*sql.DB]int{}
	for i := 0; i < 4; i++ {
		seen[cm.Replica()]++
	}
	assert.Equal(t, 2, seen[r1])
	assert.Equal(t, 2, seen[r2])
	assert.Zero(t, seen[primary], "reads never hit the primary while replicas are up")
}

func TestHealthCheckPrimaryDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(assert.AnError)

	cm := &ConnectionManager{primary: db}
	err = cm.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary unhealthy")
}

func TestHealthCheckToleratesOneDeadReplica(t *testing.T) {
	primary, pm, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer primary.Close()
	pm.ExpectPing()

	alive, am, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer alive.Close()
	am.ExpectPing()

	dead, dm, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer dead.Close()
	dm.ExpectPing().WillReturnError(assert.AnError)

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{alive, dead}}
	assert.NoError(t, cm.HealthCheck(context.Background()),
		"one dead replica degrades, it does not fail the check")
}

func TestHealthCheckAllReplicasDown(t *testing.T) {
	primary, pm, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer primary.Close()
	pm.ExpectPing()

	dead, dm, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer dead.Close()
	dm.ExpectPing().WillReturnError(assert.AnError)

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{dead}}
	err = cm.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all replicas unhealthy")
}

func TestCloseClosesEverything(t *testing.T) {
	primary, pm, err := sqlmock.New()
	require.NoError(t, err)
	pm.ExpectClose()
	replica, rm, err := sqlmock.New()
	require.NoError(t, err)
	rm.ExpectClose()

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
	require.NoError(t, cm.Close())
	assert.NoError(t, pm.ExpectationsWereMet())
	assert.NoError(t, rm.ExpectationsWereMet())
}
