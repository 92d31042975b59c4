package postgres

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
	"github.com/raphaelgruber/jobingest/internal/store/storetest"
)

var testStore *Store

// TestMain starts a PostgreSQL container shared by all tests.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "jobingest",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/jobingest?sslmode=disable", host, port.Port())
	testStore, err = New(ctx, dsn, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	code := m.Run()

	testStore.Close()
	_ = container.Terminate(ctx)

	os.Exit(code)
}

func requireStore(t *testing.T) *Store {
	t.Helper()
	if testStore == nil {
		t.Skip("skipping integration test in short mode")
	}
	return testStore
}

func TestStoreConformance(t *testing.T) {
	s := requireStore(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		return s
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := requireStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestStatusCheckConstraint(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()

	_, err := s.Pool().Exec(ctx,
		`INSERT INTO ingestion_records (id, source_url, status) VALUES ($1, $2, 'scraping')`,
		store.NewID(), "https://jobs.example.com/check/"+store.NewID())
	require.Error(t, err)
	assert.ErrorIs(t, wrapPgError(err), models.ErrInvariant)
}

func TestTransition_KeepsUntouchedColumns(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()

	rec, _, err := s.Create(ctx, "https://jobs.example.com/keep/"+store.NewID())
	require.NoError(t, err)

	meta := &models.PageMeta{Title: "Backend Engineer"}
	_, err = s.Transition(ctx, rec.ID, models.StatusPending, models.Scraped("<h1>Backend Engineer</h1>", meta))
	require.NoError(t, err)
	_, err = s.Transition(ctx, rec.ID, models.StatusScraped, models.Parsing())
	require.NoError(t, err)

	got, err := s.Transition(ctx, rec.ID, models.StatusParsing,
		models.Parsed(models.JobData{Position: "Backend Engineer", Technologies: []string{"Go"}}))
	require.NoError(t, err)

	require.NotNil(t, got.Content)
	assert.Equal(t, "<h1>Backend Engineer</h1>", *got.Content)
	require.NotNil(t, got.PageMeta)
	assert.Equal(t, "Backend Engineer", got.PageMeta.Title)
	require.NotNil(t, got.ExtractedData)
	assert.Equal(t, []string{"Go"}, got.ExtractedData.Technologies)
	assert.Nil(t, got.ErrorMessage)
}

func TestWrapPgError_PassesThroughOtherErrors(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Same(t, err, wrapPgError(err))
}
