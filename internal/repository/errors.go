// Package repository persists the engine's rows in MySQL.  Sessions,
// registrations and requests are upserted by id; ledger entries are
// insert-only.  All writes of one engine unit go through Journal.Commit
// in a single transaction.
//
// The sentinel values below let callers tell driver failures that are
// caused by the data apart from transient ones.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrDuplicateEntry is returned when an insert-only row already exists,
// e.g. a ledger entry id or idempotency key written twice.
var ErrDuplicateEntry = errors.New("duplicate entry")

// mysqlDuplicateKey is ER_DUP_ENTRY.
const mysqlDuplicateKey = 1062

// translate maps driver errors onto the sentinels above.
func translate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateKey {
		return errors.Join(ErrDuplicateEntry, err)
	}
	return err
}
