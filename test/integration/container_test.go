//go:build integration

package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	pgUser        = "hms"
	pgPassword    = "hms"
	pgDatabase    = "hmstest"
)

// pgContainer is a disposable Postgres for one test binary run.
type pgContainer struct {
	c   testcontainers.Container
	dsn string
}

// startPostgresContainer blocks until the server has finished its init
// restart and accepts connections on the mapped port.
func startPostgresContainer(ctx context.Context) (*pgContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		Labels: map[string]string{"hms-integration": "1"},
		// The entrypoint starts postgres twice; the first instance only runs init scripts.
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", postgresImage, err)
	}
	pg := &pgContainer{c: c}

	host, err := c.Host(ctx)
	if err != nil {
		pg.Stop()
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		pg.Stop()
		return nil, fmt.Errorf("mapped port: %w", err)
	}
	pg.dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pgUser, pgPassword, host, port.Port(), pgDatabase)
	return pg, nil
}

// Stop terminates and removes the container.
func (pg *pgContainer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = pg.c.Terminate(ctx)
}
