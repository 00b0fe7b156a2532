package kafka

import (
	"context"
	"time"
)

// autoCommitter periodically persists the committable snapshot of the cursor
// table. Two independent triggers fire it: an elapsed-time interval and a
// consumed-message-count threshold; either may be disabled. Commit failures
// are reported and retried on the next trigger, they never interrupt
// consumption.
type autoCommitter struct {
	transport      Transport
	cursors        *cursorTable
	groupID        string
	interval       time.Duration // <= 0 disables the time trigger
	everyN         int           // 0 disables the count trigger
	requestTimeout time.Duration
	stats          *consumerStats
	errorLogger    Logger
	clientID       string

	notify chan int
	done   chan struct{}
}

func newAutoCommitter(config ConsumerConfig, cursors *cursorTable, stats *consumerStats) *autoCommitter {
	interval := config.AutoCommitInterval
	if interval < 0 {
		interval = 0
	}
	return &autoCommitter{
		transport:      config.Transport,
		cursors:        cursors,
		groupID:        config.GroupID,
		interval:       interval,
		everyN:         config.AutoCommitEveryN,
		requestTimeout: config.RequestTimeout,
		stats:          stats,
		errorLogger:    config.ErrorLogger,
		clientID:       config.ClientID,
		notify:         make(chan int, 1),
		done:           make(chan struct{}),
	}
}

// observe informs the committer that n more messages were yielded. Called on
// the consumption path, must never block.
func (ac *autoCommitter) observe(n int) {
	if ac.everyN <= 0 {
		return
	}
	select {
	case ac.notify <- n:
	default:
		// Run loop busy. A dropped increment only delays the count
		// trigger; the offsets themselves are never lost.
	}
}

func (ac *autoCommitter) run(ctx context.Context) {
	defer close(ac.done)

	var tick <-chan time.Time
	if ac.interval > 0 {
		ticker := time.NewTicker(ac.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	uncommitted := 0

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick:
			ac.commit(ctx)
			uncommitted = 0

		case n := <-ac.notify:
			uncommitted += n
			if uncommitted >= ac.everyN {
				ac.commit(ctx)
				uncommitted = 0
			}
		}
	}
}

// commit snapshots and persists committable offsets. Errors are logged, not
// returned: offsets stay uncommitted and the next trigger retries them.
func (ac *autoCommitter) commit(ctx context.Context) {
	snapshot := ac.cursors.snapshotCommittable()
	if len(snapshot) == 0 {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, ac.requestTimeout)
	err := ac.transport.CommitOffsets(cctx, ac.groupID, snapshot)
	cancel()

	if err != nil {
		ac.stats.observeError()
		if ac.errorLogger != nil {
			ac.errorLogger.Printf("consumer %s auto-commit of %d partition offsets failed, will retry: %v",
				ac.clientID, len(snapshot), err)
		}
		return
	}

	ac.cursors.markCommitted(snapshot)
	ac.stats.observeCommit()
}

// finalCommit is the best-effort commit performed on Close. It uses its own
// context because the run loop's context is already canceled by then.
func (ac *autoCommitter) finalCommit() {
	ctx, cancel := context.WithTimeout(context.Background(), ac.requestTimeout)
	defer cancel()
	ac.commit(ctx)
}

// commitSync is the manual commit path. Unlike the scheduled triggers it
// propagates the transport error to the caller.
func commitSync(ctx context.Context, transport Transport, groupID string, cursors *cursorTable, stats *consumerStats) error {
	snapshot := cursors.snapshotCommittable()
	if len(snapshot) == 0 {
		return nil
	}

	if err := transport.CommitOffsets(ctx, groupID, snapshot); err != nil {
		stats.observeError()
		return err
	}

	cursors.markCommitted(snapshot)
	stats.observeCommit()
	return nil
}
