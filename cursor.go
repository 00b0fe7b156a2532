package kafka

import (
	"sort"
	"sync"
)

// cursor tracks the read state of one assigned partition.
type cursor struct {
	// fetchOffset is the next offset to request from the broker.
	fetchOffset int64

	// lastReturned is the highest offset yielded to the caller, -1 until a
	// message has been returned. Invariant once set: fetchOffset >=
	// lastReturned+1.
	lastReturned int64

	// committed is the last offset durably acknowledged, -1 if unknown.
	// Committed offsets follow the resume convention: the value is the
	// next offset to read, not the last one read.
	committed int64

	// fetchBufferSize is the byte budget for the next fetch of this
	// partition. Grown by the fetch manager when messages do not fit.
	fetchBufferSize int

	// highWaterMark is the broker-reported end of log. Advisory.
	highWaterMark int64

	// epoch is bumped by seeks and reassignments so that batches fetched
	// against an older position are recognizably stale and discarded.
	epoch uint64

	// failed marks a partition whose out-of-range recovery was exhausted.
	// Cleared by an explicit seek.
	failed bool
}

// cursorTable is the single writable source of truth for per-partition
// offsets. One mutex serializes all cursor access; no network call ever
// happens under it.
type cursorTable struct {
	mutex   sync.Mutex
	cursors map[TopicPartition]*cursor
}

func newCursorTable() *cursorTable {
	return &cursorTable{cursors: make(map[TopicPartition]*cursor)}
}

// cursorView is an immutable copy of a cursor's state handed out to readers.
type cursorView struct {
	fetchOffset     int64
	lastReturned    int64
	committed       int64
	fetchBufferSize int
	highWaterMark   int64
	epoch           uint64
	failed          bool
}

// assign creates the cursor for a newly owned partition positioned at
// initialOffset. Assigning an already-owned partition repositions it.
func (t *cursorTable) assign(tp TopicPartition, initialOffset int64, bufferSize int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if c, ok := t.cursors[tp]; ok {
		c.fetchOffset = initialOffset
		c.epoch++
		c.failed = false
		return
	}
	t.cursors[tp] = &cursor{
		fetchOffset:     initialOffset,
		lastReturned:    -1,
		committed:       -1,
		fetchBufferSize: bufferSize,
	}
}

// revoke drops the cursor for a partition that is no longer owned.
func (t *cursorTable) revoke(tp TopicPartition) {
	t.mutex.Lock()
	delete(t.cursors, tp)
	t.mutex.Unlock()
}

// get returns a snapshot of the partition's cursor, or ErrNotOwned.
func (t *cursorTable) get(tp TopicPartition) (cursorView, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	c, ok := t.cursors[tp]
	if !ok {
		return cursorView{}, ErrNotOwned
	}
	return cursorView{
		fetchOffset:     c.fetchOffset,
		lastReturned:    c.lastReturned,
		committed:       c.committed,
		fetchBufferSize: c.fetchBufferSize,
		highWaterMark:   c.highWaterMark,
		epoch:           c.epoch,
		failed:          c.failed,
	}, nil
}

// advance records that the message at offset was yielded to the caller and
// moves the fetch position past it. The advance is ignored if the partition
// was revoked or repositioned (epoch mismatch) since the message was
// fetched.
func (t *cursorTable) advance(tp TopicPartition, offset int64, epoch uint64) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	c, ok := t.cursors[tp]
	if !ok || c.epoch != epoch {
		return false
	}
	c.lastReturned = offset
	if c.fetchOffset < offset+1 {
		c.fetchOffset = offset + 1
	}
	return true
}

// seek repositions the partition absolutely and invalidates any buffered
// but unreturned batch by bumping the epoch.
func (t *cursorTable) seek(tp TopicPartition, offset int64) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	c, ok := t.cursors[tp]
	if !ok {
		return ErrNotOwned
	}
	c.fetchOffset = offset
	c.epoch++
	c.failed = false
	return nil
}

// setFetchOffset adjusts the fetch position without invalidating buffers,
// used by out-of-range recovery where nothing has been buffered yet.
func (t *cursorTable) setFetchOffset(tp TopicPartition, offset int64) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	c, ok := t.cursors[tp]
	if !ok {
		return ErrNotOwned
	}
	c.fetchOffset = offset
	return nil
}

func (t *cursorTable) setFetchBufferSize(tp TopicPartition, size int) {
	t.mutex.Lock()
	if c, ok := t.cursors[tp]; ok {
		c.fetchBufferSize = size
	}
	t.mutex.Unlock()
}

func (t *cursorTable) setHighWaterMark(tp TopicPartition, hwm int64) {
	t.mutex.Lock()
	if c, ok := t.cursors[tp]; ok && hwm > c.highWaterMark {
		c.highWaterMark = hwm
	}
	t.mutex.Unlock()
}

// markFailed flags the partition after exhausted out-of-range recovery.
// Fetching resumes only after an explicit seek.
func (t *cursorTable) markFailed(tp TopicPartition) {
	t.mutex.Lock()
	if c, ok := t.cursors[tp]; ok {
		c.failed = true
	}
	t.mutex.Unlock()
}

// snapshotCommittable returns resume offsets (lastReturned+1) for every
// partition that has yielded messages beyond its committed position. The
// snapshot is atomic with respect to concurrent advances.
func (t *cursorTable) snapshotCommittable() CommitRecord {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	snapshot := make(CommitRecord)
	for tp, c := range t.cursors {
		if c.lastReturned < 0 {
			continue
		}
		if next := c.lastReturned + 1; next > c.committed {
			snapshot[tp] = next
		}
	}
	return snapshot
}

// markCommitted records that the offsets in rec were durably stored.
// Partitions revoked since the snapshot was taken are skipped.
func (t *cursorTable) markCommitted(rec CommitRecord) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for tp, offset := range rec {
		if c, ok := t.cursors[tp]; ok && offset > c.committed {
			c.committed = offset
		}
	}
}

// partitions returns the owned partitions in a stable sorted order.
func (t *cursorTable) partitions() []TopicPartition {
	t.mutex.Lock()
	tps := make([]TopicPartition, 0, len(t.cursors))
	for tp := range t.cursors {
		tps = append(tps, tp)
	}
	t.mutex.Unlock()

	sort.Slice(tps, func(i, j int) bool {
		if tps[i].Topic != tps[j].Topic {
			return tps[i].Topic < tps[j].Topic
		}
		return tps[i].Partition < tps[j].Partition
	})
	return tps
}

func (t *cursorTable) owned(tp TopicPartition) bool {
	t.mutex.Lock()
	_, ok := t.cursors[tp]
	t.mutex.Unlock()
	return ok
}
