// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers
// such as managers and handlers to distinguish between failure
// scenarios without inspecting driver errors. For example,
// ErrNotFound maps to HTTP 404 while ErrDuplicate signals that a
// uniqueness guard (one order per reservation, one pending transfer
// per ticket) rejected the write.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness
// guard, such as creating a second order for the same reservation.
var ErrDuplicate = errors.New("duplicate")

// isDuplicateKey reports whether err is a MySQL duplicate-key error
// (errno 1062), which the repositories translate into ErrDuplicate.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
