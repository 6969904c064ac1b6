package database_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/models"
)

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", pgx.ErrNoRows, models.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, models.ErrConflict},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, models.ErrNotFound},
		{"not null violation", &pgconn.PgError{Code: "23502"}, models.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, database.MapPostgresError(tt.err))
		})
	}
}

func TestMapPostgresErrorWrapped(t *testing.T) {
	// The scan path wraps driver errors before they reach the mapper
	wrapped := fmt.Errorf("query failed: %w", &pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, database.MapPostgresError(wrapped), models.ErrConflict)

	// Unrecognized errors pass through untouched
	boom := errors.New("boom")
	assert.Equal(t, boom, database.MapPostgresError(boom))
}
