//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/kurbisio-runner/core/csql"
	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
	"github.com/relabs-tech/kurbisio-runner/runner/store/postgres"
)

// PostgresStoreSuite re-runs the S1/S3 testable properties from
// runner/runner_test.go against a real Postgres instance, following
// test.IntegrationTestSuite's testcontainers-based setup trimmed to just
// the Postgres container this package actually needs.
type PostgresStoreSuite struct {
	suite.Suite
	container testcontainers.Container
	db        *csql.DB
	store     *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "runner",
			"POSTGRES_PASSWORD": "runner",
			"POSTGRES_DB":       "runner",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = c

	host, err := c.Host(ctx)
	s.Require().NoError(err)
	port, err := c.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db = csql.OpenWithSchema(
		fmt.Sprintf("host=%s port=%s user=runner dbname=runner sslmode=disable", host, port.Port()),
		"runner", "runner_test",
	)
	s.store = postgres.New(s.db)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	s.db.ClearSchema()
	s.Require().NoError(s.store.SetupTables(context.Background(), "a", []int{0}))
	s.Require().NoError(s.store.SetupTables(context.Background(), "b", []int{0}))
}

// TestLinearPipelineTracksAll is S1 against real Postgres: append 5 events
// to a, track all 5 against b, and confirm both the notification log and
// the tracking table agree.
func (s *PostgresStoreSuite) TestLinearPipelineTracksAll() {
	ctx := context.Background()

	var notifications []process.Notification
	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		events := make([]process.Event, 5)
		for i := range events {
			events[i] = process.Event{Topic: "seed"}
		}
		var err error
		notifications, err = tx.AppendEvents("a", 0, events)
		return err
	})
	s.Require().NoError(err)
	s.Require().Len(notifications, 5)

	for _, n := range notifications {
		err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
			return tx.InsertTracking("b", "a", 0, n.ID)
		})
		s.Require().NoError(err)
	}

	max, err := s.store.GetMaxTrackingNotificationID(ctx, "b", "a", 0)
	s.Require().NoError(err)
	s.Require().NotNil(max)
	s.Equal(int64(5), *max)

	fetched, err := s.store.GetNotifications(ctx, "a", 0, nil, nil)
	s.Require().NoError(err)
	s.Equal(5, len(fetched))
}

// TestDuplicateTrackingIsRejected is S3 against real Postgres: the unique
// constraint on (downstream, upstream, pipeline, notification) surfaces as
// a uniqueness conflict, not a generic error.
func (s *PostgresStoreSuite) TestDuplicateTrackingIsRejected() {
	ctx := context.Background()

	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.InsertTracking("b", "a", 0, 1)
	})
	s.Require().NoError(err)

	err = s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.InsertTracking("b", "a", 0, 1)
	})
	s.Require().Error(err)
	s.True(runnererrors.IsUniquenessConflict(err))
}

// TestHalfOpenRangeExcludesStart confirms GetNotifications' (start, stop]
// convention at the store layer.
func (s *PostgresStoreSuite) TestHalfOpenRangeExcludesStart() {
	ctx := context.Background()

	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		_, err := tx.AppendEvents("a", 0, []process.Event{{Topic: "x"}, {Topic: "y"}, {Topic: "z"}})
		return err
	})
	s.Require().NoError(err)

	start := int64(1)
	stop := int64(2)
	notifications, err := s.store.GetNotifications(ctx, "a", 0, &start, &stop)
	s.Require().NoError(err)
	s.Require().Len(notifications, 1)
	s.Equal(int64(2), notifications[0].ID)
}
