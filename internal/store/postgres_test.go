package store

import (
	"context"
	"dgtscraper/internal/registration"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	postgres, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:16-alpine",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "dgt",
					"POSTGRES_PASSWORD": "dgt",
					"POSTGRES_DB":       "registrations",
				},
				// the server restarts once after running its init scripts
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		err := postgres.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	})

	host, err := postgres.Host(ctx)
	require.NoError(t, err)
	port, err := postgres.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://dgt:dgt@%s:%s/registrations?sslmode=disable", host, port.Port())
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a postgres container")
	}
	ctx := context.Background()
	dsn := setupPostgres(t)

	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	err = s.Upsert(ctx, []registration.Record{
		testRecord("VSSZZZ5FZR0000001", 2),
		testRecord("VSSZZZ5FZR0000002", 2),
	})
	require.NoError(t, err)

	// opening again runs the schema against existing tables
	reopened, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer reopened.Close()

	updated := testRecord("VSSZZZ5FZR0000001", 2)
	updated.Model = "LEON SPORTSTOURER"
	err = reopened.Upsert(ctx, []registration.Record{
		updated,
		// same VIN on another procedure date is another registration
		testRecord("VSSZZZ5FZR0000001", 3),
	})
	require.NoError(t, err)

	var count int
	err = s.pool.QueryRow(ctx, "select count(*) from registrations").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	var model, vin string
	var procedureDate time.Time
	err = s.pool.QueryRow(
		ctx,
		"select record->>'vehiculoModelo', bastidor, fecha_tramite from registrations where natural_key = $1",
		updated.Key(),
	).Scan(&model, &vin, &procedureDate)
	require.NoError(t, err)
	require.Equal(t, "LEON SPORTSTOURER", model)
	require.Equal(t, "VSSZZZ5FZR0000001", vin)
	require.Equal(t, "2024-01-02", procedureDate.Format(time.DateOnly))
}
