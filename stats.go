package kafka

import "sync/atomic"

// ConsumerStats is a snapshot of the counters maintained by a Consumer.
type ConsumerStats struct {
	Fetches   int64
	Messages  int64
	Bytes     int64
	Timeouts  int64
	Errors    int64
	Commits   int64
	Rebalance int64
}

type consumerStats struct {
	fetches   int64
	messages  int64
	bytes     int64
	timeouts  int64
	errors    int64
	commits   int64
	rebalance int64
}

func (s *consumerStats) observeFetch()       { atomic.AddInt64(&s.fetches, 1) }
func (s *consumerStats) observeTimeout()     { atomic.AddInt64(&s.timeouts, 1) }
func (s *consumerStats) observeError()       { atomic.AddInt64(&s.errors, 1) }
func (s *consumerStats) observeCommit()      { atomic.AddInt64(&s.commits, 1) }
func (s *consumerStats) observeRebalance()   { atomic.AddInt64(&s.rebalance, 1) }
func (s *consumerStats) observeMessage(n int64) {
	atomic.AddInt64(&s.messages, 1)
	atomic.AddInt64(&s.bytes, n)
}

func (s *consumerStats) snapshot() ConsumerStats {
	return ConsumerStats{
		Fetches:   atomic.LoadInt64(&s.fetches),
		Messages:  atomic.LoadInt64(&s.messages),
		Bytes:     atomic.LoadInt64(&s.bytes),
		Timeouts:  atomic.LoadInt64(&s.timeouts),
		Errors:    atomic.LoadInt64(&s.errors),
		Commits:   atomic.LoadInt64(&s.commits),
		Rebalance: atomic.LoadInt64(&s.rebalance),
	}
}
