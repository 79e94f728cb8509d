// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/univexplorer/authd/internal/auth"
	authpg "github.com/univexplorer/authd/internal/auth/postgres"
	"github.com/univexplorer/authd/internal/store"
)

// setupPostgresContainer starts a PostgreSQL container and applies the
// schema migrations.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("authd_test"),
		pgcontainer.WithUsername("authd"),
		pgcontainer.WithPassword("authd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	pool, err := store.Connect(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup, nil
}

var _ = Describe("UserRepository", func() {
	var pool *pgxpool.Pool
	var cleanup func()
	var repo *authpg.UserRepository

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
		repo = authpg.NewUserRepository(pool)
	})

	AfterEach(func() {
		cleanup()
	})

	newUser := func(username, email string) *auth.User {
		user, err := auth.NewUser(username, email, "$2a$10$fakehashfortest")
		Expect(err).NotTo(HaveOccurred())
		return user
	}

	Describe("Create", func() {
		It("stores a user that can be read back", func() {
			ctx := context.Background()
			user := newUser("nova", "n@x.com")

			Expect(repo.Create(ctx, user)).To(Succeed())

			got, err := repo.GetByUsername(ctx, "nova")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
			Expect(got.Username).To(Equal("nova"))
			Expect(got.Email).To(Equal("n@x.com"))
			Expect(got.PasswordHash).To(Equal(user.PasswordHash))
		})

		It("rejects a duplicate username regardless of case", func() {
			ctx := context.Background()
			Expect(repo.Create(ctx, newUser("nova", "n@x.com"))).To(Succeed())

			err := repo.Create(ctx, newUser("NOVA", "other@x.com"))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, auth.ErrDuplicateUser)).To(BeTrue())
		})

		It("rejects a duplicate email regardless of case", func() {
			ctx := context.Background()
			Expect(repo.Create(ctx, newUser("nova", "n@x.com"))).To(Succeed())

			err := repo.Create(ctx, newUser("vega", "N@X.COM"))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, auth.ErrDuplicateUser)).To(BeTrue())
		})
	})

	Describe("GetByUsername", func() {
		It("is case-insensitive", func() {
			ctx := context.Background()
			Expect(repo.Create(ctx, newUser("nova", "n@x.com"))).To(Succeed())

			got, err := repo.GetByUsername(ctx, "NoVa")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Username).To(Equal("nova"))
		})

		It("returns ErrNotFound for an unknown username", func() {
			ctx := context.Background()
			_, err := repo.GetByUsername(ctx, "ghost")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ExistsByUsernameOrEmail", func() {
		BeforeEach(func() {
			Expect(repo.Create(context.Background(), newUser("nova", "n@x.com"))).To(Succeed())
		})

		It("reports a taken username", func() {
			exists, err := repo.ExistsByUsernameOrEmail(context.Background(), "NOVA", "fresh@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("reports a taken email", func() {
			exists, err := repo.ExistsByUsernameOrEmail(context.Background(), "vega", "N@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("reports free credentials", func() {
			exists, err := repo.ExistsByUsernameOrEmail(context.Background(), "vega", "v@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})
})
