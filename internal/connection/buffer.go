package connection

// bufferedReading is one publish held back while offline.
type bufferedReading struct {
	seq uint64
	key bufferKey
	msg Message
}

// ReadingBuffer is a fixed-capacity FIFO of readings for one sensor output.
// When full, the oldest entry is dropped to admit the newest.
// Not safe for concurrent use; Resilient guards it.
type ReadingBuffer struct {
	buf      []bufferedReading
	capacity int
	head     int
	count    int
	dropped  int
}

// NewReadingBuffer creates a buffer. Capacities below 1 become 1.
func NewReadingBuffer(capacity int) *ReadingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReadingBuffer{
		buf:      make([]bufferedReading, capacity),
		capacity: capacity,
	}
}

func (r *ReadingBuffer) push(entry bufferedReading) {
	r.buf[r.head] = entry
	r.head = (r.head + 1) % r.capacity
	if r.count == r.capacity {
		r.dropped++
		return
	}
	r.count++
}

// drain returns the entries oldest-first and empties the buffer.
func (r *ReadingBuffer) drain() []bufferedReading {
	if r.count == 0 {
		return nil
	}

	out := make([]bufferedReading, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.dropped = 0
	return out
}

// Len returns the number of buffered readings.
func (r *ReadingBuffer) Len() int {
	return r.count
}

// Dropped returns how many readings were discarded since the last drain.
func (r *ReadingBuffer) Dropped() int {
	return r.dropped
}
