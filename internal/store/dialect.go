package store

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects the SQL flavour the repository speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect accepts the DATABASE_DRIVER values the service understands.
func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", raw)
	}
}

// timestampLayout is fixed width so TEXT timestamps in SQLite sort chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// rebind rewrites `?` placeholders into `$n` for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// referralLockKey is the transaction-scoped advisory lock taken by every referral write.
const referralLockKey int64 = 0x534b5246

// referralLockStatement serialises referral writers so the ancestry walk inside the
// transaction sees every committed edge. SQLite already allows a single writer.
func (d Dialect) referralLockStatement() string {
	if d == DialectPostgres {
		return "SELECT pg_advisory_xact_lock(?)"
	}
	return ""
}

// lockClause is appended to row reads that must hold a row lock until commit. SQLite
// serialises writers on its single connection and has no row locks.
func (d Dialect) lockClause() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (d Dialect) timeValue(t time.Time) driver.Value {
	t = t.UTC()
	if d == DialectSQLite {
		return t.Format(timestampLayout)
	}
	return t
}

func (d Dialect) nullTimeValue(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return d.timeValue(*t)
}

func (d Dialect) gooseDialect() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "postgres"
}

func (d Dialect) migrationsDir() string {
	return "migrations/" + string(d)
}

// placeholders returns "?, ?, ?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
