// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsTransient reports whether err looks like a transient operational
// failure (dropped connection, timeout, server shutdown) that is worth one
// retry, as opposed to a permanent error such as a constraint violation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08": // connection exception
			return true
		case "57": // operator intervention (shutdown, crash)
			return true
		case "40": // transaction rollback (serialization, deadlock)
			return true
		}
	}
	return false
}
