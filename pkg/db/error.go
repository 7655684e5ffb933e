package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation   = "23505"
	pgLockNotAvailable  = "55P03"
	pgQueryCanceled     = "57014"
	pgSerializationFail = "40001"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	if code, ok := pgCode(err); ok {
		return code == pgUniqueViolation
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsContentionErr reports lock waits, cancellations and serialization failures that the
// caller should surface as a temporary outage.
func IsContentionErr(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := pgCode(err); ok {
		switch code {
		case pgLockNotAvailable, pgQueryCanceled, pgSerializationFail:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "Lock wait timeout")
}

// pgCode extracts the SQLSTATE from pgx errors and from lib/pq errors raised on
// the migration connection.
func pgCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}
