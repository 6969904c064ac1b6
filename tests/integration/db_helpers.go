package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/models"
	"github.com/tmcalister/rampart/internal/repositories"
)

// TestDB manages a PostgreSQL testcontainer and the connection into it
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("rampart"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Suppress goose logs
	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a stdlib DB connection
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"audit_logs",
		"emergency_codes",
		"security_alerts",
		"login_attempts",
		"accounts",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from the database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.AccountRepository,
	*repositories.LoginAttemptRepository,
	*repositories.AlertRepository,
	*repositories.EmergencyCodeRepository,
	repositories.AuditLogRepository,
) {
	return repositories.NewAccountRepository(db),
		repositories.NewLoginAttemptRepository(db),
		repositories.NewAlertRepository(db),
		repositories.NewEmergencyCodeRepository(db),
		repositories.NewAuditLogRepository(db)
}

// SeedAccount inserts a test account with default security state
func SeedAccount(ctx context.Context, pool *pgxpool.Pool, email string, secondFactor bool) (*models.Account, error) {
	query := `
		INSERT INTO accounts (email, role, status, second_factor_enabled, created_at, updated_at)
		VALUES ($1, 'user', 'active', $2, NOW(), NOW())
		RETURNING id, email, role, status, failed_attempt_count, locked_until,
			second_factor_enabled, lock_version, created_at, updated_at
	`

	var account models.Account
	err := pool.QueryRow(ctx, query, email, secondFactor).Scan(
		&account.ID,
		&account.Email,
		&account.Role,
		&account.Status,
		&account.FailedAttemptCount,
		&account.LockedUntil,
		&account.SecondFactorEnabled,
		&account.LockVersion,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return &account, nil
}

// SeedFailedAttempt inserts one failed login attempt at the given time
func SeedFailedAttempt(ctx context.Context, pool *pgxpool.Pool, account *models.Account, ip, country string, at time.Time) error {
	query := `
		INSERT INTO login_attempts (account_id, identifier, ip_address, user_agent,
			device_signature, attempt_time, success, failure_reason, country, expires_at)
		VALUES ($1, $2, $3, 'integration-test', 'sig-test', $4, false, 'INVALID_PASSWORD', $5, $4 + INTERVAL '90 days')
	`

	var countryArg *string
	if country != "" {
		countryArg = &country
	}
	_, err := pool.Exec(ctx, query, account.ID, account.Email, ip, at, countryArg)
	if err != nil {
		return fmt.Errorf("failed to insert login attempt: %w", err)
	}
	return nil
}
