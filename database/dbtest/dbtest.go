// Package dbtest starts a disposable Postgres server for tests and hands out
// freshly migrated databases on it.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/irsalhamdi/storefront/config"
	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	image    = "postgres"
	tag      = "15-alpine"
	user     = "postgres"
	password = "postgres"
)

type Container struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource
	host     string
}

// Start runs a postgres container and waits until it accepts connections.
func Start() (*Container, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: image,
		Tag:        tag,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}
	_ = resource.Expire(300)

	c := &Container{
		pool:     pool,
		resource: resource,
		host:     resource.GetHostPort("5432/tcp"),
	}

	err = pool.Retry(func() error {
		db, err := database.Open(c.config("postgres"))
		if err != nil {
			return err
		}
		defer db.Close()
		return database.StatusCheck(context.Background(), db)
	})
	if err != nil {
		_ = pool.Purge(resource)
		return nil, fmt.Errorf("waiting for postgres: %w", err)
	}

	return c, nil
}

func (c *Container) Stop() error {
	return c.pool.Purge(c.resource)
}

func (c *Container) config(name string) config.DB {
	return config.DB{
		User:         user,
		Password:     password,
		Host:         c.host,
		Name:         name,
		MaxIdleConns: 2,
		MaxOpenConns: 20,
		DisableTLS:   true,
	}
}

// NewDB creates an empty database named after the test, applies all
// migrations and returns a handle that is closed when the test ends.
func (c *Container) NewDB(t *testing.T, name string) *sqlx.DB {
	t.Helper()

	name = strings.ToLower(strings.NewReplacer("/", "_", "-", "_", " ", "_").Replace(name))
	if len(name) > 63 {
		name = name[:63]
	}

	admin, err := database.Open(c.config("postgres"))
	if err != nil {
		t.Fatalf("opening admin connection: %v", err)
	}
	defer admin.Close()

	if _, err := admin.Exec(fmt.Sprintf(`DROP DATABASE IF EXISTS %q`, name)); err != nil {
		t.Fatalf("dropping database %s: %v", name, err)
	}
	if _, err := admin.Exec(fmt.Sprintf(`CREATE DATABASE %q`, name)); err != nil {
		t.Fatalf("creating database %s: %v", name, err)
	}

	cfg := c.config(name)
	if err := database.Migrate(cfg); err != nil {
		t.Fatalf("migrating database %s: %v", name, err)
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("opening database %s: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}
