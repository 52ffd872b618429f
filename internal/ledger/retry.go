package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourorg/holdings-ledger/internal/domain"
)

type outcome int

const (
	committed outcome = iota
	conflict
	terminal
)

// attempt is the result of one pass through an operation.
type attempt struct {
	outcome outcome
	err     *Error
	event   *domain.PositionEvent
	change  *domain.PortfolioChange
}

func terminalAttempt(err *Error) attempt {
	return attempt{outcome: terminal, err: err}
}

type decision int

const (
	finish decision = iota
	backoff
)

// classify decides whether an attempt ends the operation. Only version
// conflicts are transient; everything else is returned as is.
func classify(a attempt) decision {
	if a.outcome == conflict {
		return backoff
	}
	return finish
}

func (s *Synchronizer) retry(ctx context.Context, op string, key slog.Attr, fn func(context.Context) attempt) attempt {
	for i := 0; i < s.opts.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return terminalAttempt(databaseError(err, "%s cancelled", op))
		}

		a := fn(ctx)
		if classify(a) == finish {
			return a
		}

		if i == s.opts.MaxAttempts-1 {
			break
		}
		delay := s.opts.BaseDelay << i
		s.logger.Warn("portfolio version conflict, retrying",
			key, "op", op, "attempt", i+1, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return terminalAttempt(databaseError(err, "%s cancelled", op))
		}
	}

	s.logger.Error("portfolio version conflict persisted",
		key, "op", op, "attempts", s.opts.MaxAttempts)
	return terminalAttempt(newError(KindConcurrencyConflict,
		"portfolio update conflict after %d attempts, please try again", s.opts.MaxAttempts))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
