package connection

import "testing"

func TestReadingBuffer_DropsOldest(t *testing.T) {
	b := NewReadingBuffer(3)
	for i := 1; i <= 5; i++ {
		b.push(bufferedReading{seq: uint64(i), msg: Message{Payload: string(rune('0' + i))}})
	}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	if b.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", b.Dropped())
	}

	got := b.drain()
	want := []string{"3", "4", "5"}
	for i, e := range got {
		if e.msg.Payload != want[i] {
			t.Errorf("drain()[%d] = %q, want %q", i, e.msg.Payload, want[i])
		}
	}
	if b.Len() != 0 || b.Dropped() != 0 {
		t.Errorf("after drain Len=%d Dropped=%d, want 0/0", b.Len(), b.Dropped())
	}
	if b.drain() != nil {
		t.Error("drain() of empty buffer should be nil")
	}
}

func TestReadingBuffer_MinimumCapacity(t *testing.T) {
	b := NewReadingBuffer(0)
	b.push(bufferedReading{seq: 1})
	b.push(bufferedReading{seq: 2})
	got := b.drain()
	if len(got) != 1 || got[0].seq != 2 {
		t.Errorf("drain() = %+v, want only seq 2", got)
	}
}

func TestReadingBuffer_WrapAround(t *testing.T) {
	b := NewReadingBuffer(2)
	b.push(bufferedReading{seq: 1})
	_ = b.drain()
	b.push(bufferedReading{seq: 2})
	b.push(bufferedReading{seq: 3})
	b.push(bufferedReading{seq: 4})

	got := b.drain()
	if len(got) != 2 || got[0].seq != 3 || got[1].seq != 4 {
		t.Errorf("drain() = %+v, want seq 3,4", got)
	}
}
