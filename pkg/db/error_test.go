package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm", err: gorm.ErrDuplicatedKey, want: true},
		{name: "pgx", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "pq", err: &pq.Error{Code: "23505"}, want: true},
		{name: "pgx other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "sqlite", err: errors.New("constraint failed: UNIQUE constraint failed: payment_transactions.gateway_id (2067)"), want: true},
		{name: "mysql", err: errors.New("Error 1062: Duplicate entry"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestIsContentionErr(t *testing.T) {
	assert.True(t, IsContentionErr(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsContentionErr(&pq.Error{Code: "40001"}))
	assert.True(t, IsContentionErr(errors.New("database is locked")))
	assert.False(t, IsContentionErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsContentionErr(nil))
}
