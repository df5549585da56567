//go:build integration

package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testPostgresImage = "postgres:16-alpine"

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx,
		testPostgresImage,
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.WithDatabase("wikifs"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctr.Terminate(context.Background()) }) //nolint:errcheck

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresBackend_Contract(t *testing.T) {
	dsn := startPostgres(t)

	for _, limit := range []int{0, 2} {
		p, err := NewPostgresProvider(context.Background(), PostgresOptions{DSN: dsn, PageLimit: limit})
		require.NoError(t, err)
		t.Cleanup(func() { p.Close() })

		b, err := p.NewBackend()
		require.NoError(t, err)
		runBackendContract(t, b, limit)
	}
}

func TestPostgresBackend_SessionLogin(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	p, err := NewPostgresProvider(ctx, PostgresOptions{DSN: dsn, SessionLogin: true})
	require.NoError(t, err)
	defer p.Close()

	t.Run("valid credentials", func(t *testing.T) {
		b, _ := p.NewBackend()
		require.NoError(t, b.Open(ctx, wikifs.Credentials{Username: "postgres", Password: "postgres"}))
		defer b.Close()

		require.NoError(t, b.Set(ctx, "Login/Check", []byte("ok")))
		e, err := b.Get(ctx, "Login/Check")
		require.NoError(t, err)
		assert.Equal(t, "ok", string(e.Value))
	})
	t.Run("bad password", func(t *testing.T) {
		b, _ := p.NewBackend()
		err := b.Open(ctx, wikifs.Credentials{Username: "postgres", Password: "nope"})

		var authErr *wikifs.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "postgres", authErr.User)
	})
}
