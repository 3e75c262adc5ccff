package notify

import (
	"context"

	"channel-sub-bot/logger"

	"github.com/google/uuid"
)

type BroadcastReport struct {
	ID        uuid.UUID
	Total     int
	Attempted int
	Succeeded int
	// Halted is set when the breaker stopped the run early.
	Halted bool
}

// Broadcast delivers msg to recipients in batches. After every batch but the
// first, the run stops if the successes so far are below the configured
// share of the messages attempted so far.
func (n *Notifier) Broadcast(ctx context.Context, recipients []int64, msg Message) BroadcastReport {
	rep := BroadcastReport{ID: uuid.New(), Total: len(recipients)}
	log := logger.Log.With(logger.String("broadcast_id", rep.ID.String()))
	log.Info("broadcast started", logger.Int("recipients", rep.Total), logger.Int("batch_size", n.batchSize))

	for batch := 0; batch*n.batchSize < len(recipients); batch++ {
		start := batch * n.batchSize
		end := min(start+n.batchSize, len(recipients))

		if err := n.wait(ctx, end-start); err != nil {
			log.Warn("broadcast interrupted", logger.Error(err))
			rep.Halted = true
			break
		}

		res := n.Fanout(ctx, KindBroadcast, recipients[start:end], msg)
		rep.Attempted += end - start
		rep.Succeeded += res.Succeeded()

		if batch > 0 && float64(rep.Succeeded) < float64(rep.Attempted)*n.minSuccess {
			log.Warn("broadcast halted by failure rate",
				logger.Int("attempted", rep.Attempted),
				logger.Int("succeeded", rep.Succeeded),
			)
			rep.Halted = true
			break
		}
	}

	n.metrics.ObserveBroadcast(rep.Succeeded, rep.Halted)
	log.Info("broadcast finished",
		logger.Int("succeeded", rep.Succeeded),
		logger.Int("attempted", rep.Attempted),
		logger.Bool("halted", rep.Halted),
	)
	return rep
}

// wait reserves rate for a batch of n sends.
func (n *Notifier) wait(ctx context.Context, count int) error {
	if n.limiter == nil {
		return ctx.Err()
	}
	for range count {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
