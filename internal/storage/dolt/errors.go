package dolt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/edgefleet/c2d/internal/ctxlog"
)

// MySQL error numbers the store reacts to.
const (
	errDupEntry        = 1062
	errDBCreateExists  = 1007
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
)

func mysqlErrorNumber(err error) (uint16, bool) {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number, true
	}
	return 0, false
}

// isRetryableError reports transient connection errors worth retrying in server mode.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		// a restarting server comes back within the backoff window
		"connection refused",
		// Dolt enters read-only mode under load until restarted
		"database is read only",
		"lost connection", // MySQL 2013
		"gone away",       // MySQL 2006
		"i/o timeout",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// isSerializationError reports commit conflicts that succeed when the whole
// transaction is replayed.
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	if n, ok := mysqlErrorNumber(err); ok && (n == errLockDeadlock || n == errLockWaitTimeout) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "serialization failure") ||
		strings.Contains(errStr, "try restarting transaction") ||
		strings.Contains(errStr, "optimistic lock") ||
		strings.Contains(errStr, "deadlock")
}

func isDuplicateKey(err error) bool {
	if n, ok := mysqlErrorNumber(err); ok && n == errDupEntry {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate")
}

func isDatabaseExists(err error) bool {
	if n, ok := mysqlErrorNumber(err); ok && n == errDBCreateExists {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "database exists")
}

func newExponentialBackOff(initial, maxInterval, maxElapsed time.Duration) *backoff.ExponentialBackOff {
	// BackOff implementations are stateful; always build a fresh one.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = maxElapsed
	return bo
}

// retry runs op until it succeeds, fails with an error retryable rejects, or
// bo gives up. notify is called before each wait.
func retry(ctx context.Context, bo backoff.BackOff, op func() error, retryable func(error) bool, notify backoff.Notify) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), notify)
}

func (s *DoltStore) log(ctx context.Context) *slog.Logger {
	return ctxlog.FromContext(ctx, s.logger)
}
