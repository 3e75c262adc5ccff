package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"channel-sub-bot/logger"
	"channel-sub-bot/metrics"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnavailable is returned when an operation still fails after reconnecting.
var ErrUnavailable = errors.New("store unavailable")

// Retrier runs an operation, and on a transient failure reconnects and runs it
// exactly once more.
type Retrier struct {
	Reconnect   func(ctx context.Context) error
	IsTransient func(err error) bool
	Metrics     *metrics.Metrics
}

func (r Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !r.transient(err) {
		return err
	}

	logger.Log.Warn("store connection lost, reconnecting", logger.String("op", op), logger.Error(err))

	if r.Reconnect != nil {
		if rerr := r.Reconnect(ctx); rerr != nil {
			r.Metrics.ObserveRetry(rerr)
			logger.Log.Error("store reconnect failed", logger.String("op", op), logger.Error(rerr))
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, rerr)
		}
	}

	err = fn(ctx)
	if err != nil && r.transient(err) {
		r.Metrics.ObserveRetry(err)
		logger.Log.Error("store operation failed after retry", logger.String("op", op), logger.Error(err))
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	r.Metrics.ObserveRetry(nil)
	return err
}

func (r Retrier) transient(err error) bool {
	if r.IsTransient == nil {
		return IsTransient(err)
	}
	return r.IsTransient(err)
}

// IsTransient reports whether err looks like a dropped or refused connection
// rather than a problem with the statement itself.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception; 57P01-03: admin shutdown, crash shutdown, cannot connect now
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return false
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
