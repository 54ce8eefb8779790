package dlq

import (
	"errors"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

func batch(msgs ...string) []types.Record {
	out := make([]types.Record, len(msgs))
	for i, m := range msgs {
		out[i] = types.Record{
			LineNumber: i + 1,
			Level:      types.LevelInfo,
			Phase:      types.PhaseApply,
			Transition: types.TransitionNone,
			Message:    m,
			RequestID:  "req-1",
			WellFormed: true,
			Raw:        m,
		}
	}
	return out
}

func newQueue(t *testing.T, cfg Config) *DeadLetterQueue {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	dlq, err := NewDeadLetterQueue(cfg)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	return dlq
}

func TestNewDeadLetterQueue(t *testing.T) {
	dlq := newQueue(t, Config{MaxSize: 100, MaxAge: time.Hour})
	defer dlq.Close()

	if dlq.Size() != 0 {
		t.Errorf("initial size = %d, want 0", dlq.Size())
	}
}

func TestNewDeadLetterQueueRequiresDir(t *testing.T) {
	if _, err := NewDeadLetterQueue(Config{}); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestDLQ_EnqueueDequeue(t *testing.T) {
	dlq := newQueue(t, Config{MaxSize: 100})
	defer dlq.Close()

	cause := errors.New("broker unreachable")
	if err := dlq.Enqueue("kafka-main", batch("a", "b"), cause); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if dlq.Size() != 1 {
		t.Errorf("size = %d, want 1", dlq.Size())
	}
	if dlq.RecordCount() != 2 {
		t.Errorf("record count = %d, want 2", dlq.RecordCount())
	}

	entry, err := dlq.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if entry.Output != "kafka-main" {
		t.Errorf("output = %s, want kafka-main", entry.Output)
	}
	if entry.Error != cause.Error() {
		t.Errorf("error = %s, want %s", entry.Error, cause.Error())
	}
	if len(entry.Records) != 2 || entry.Records[1].Message != "b" {
		t.Errorf("records = %+v", entry.Records)
	}
	if dlq.Size() != 0 {
		t.Errorf("size after dequeue = %d, want 0", dlq.Size())
	}

	empty, err := dlq.Dequeue()
	if err != nil || empty != nil {
		t.Errorf("Dequeue() on empty = %v, %v; want nil, nil", empty, err)
	}
}

func TestDLQ_MaxSize(t *testing.T) {
	dlq := newQueue(t, Config{MaxSize: 3})
	defer dlq.Close()

	for i := 0; i < 3; i++ {
		if err := dlq.Enqueue("out", batch("x"), errors.New("error")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	if err := dlq.Enqueue("out", batch("x"), errors.New("error")); !errors.Is(err, ErrDLQFull) {
		t.Errorf("expected ErrDLQFull, got %v", err)
	}
	if m := dlq.Metrics(); m.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", m.Dropped)
	}
}

func TestDLQ_PeekAndGetAll(t *testing.T) {
	dlq := newQueue(t, Config{})
	defer dlq.Close()

	_ = dlq.Enqueue("first", batch("1"), nil)
	_ = dlq.Enqueue("second", batch("2"), nil)

	peeked, err := dlq.Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if peeked.Output != "first" {
		t.Errorf("peeked output = %s, want first", peeked.Output)
	}
	if dlq.Size() != 2 {
		t.Errorf("peek should not remove entries, size = %d", dlq.Size())
	}

	all, err := dlq.GetAll()
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 2 || all[1].Output != "second" {
		t.Errorf("GetAll() = %+v", all)
	}
}

func TestDLQ_Clear(t *testing.T) {
	dlq := newQueue(t, Config{})
	defer dlq.Close()

	_ = dlq.Enqueue("out", batch("a"), nil)
	if err := dlq.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if dlq.Size() != 0 {
		t.Errorf("size after clear = %d, want 0", dlq.Size())
	}
}

func TestDLQ_Persistence(t *testing.T) {
	dir := t.TempDir()

	first := newQueue(t, Config{Dir: dir})
	if err := first.Enqueue("s3-archive", batch("apply started", "apply finished"), errors.New("timeout")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := newQueue(t, Config{Dir: dir})
	defer second.Close()

	if second.Size() != 1 {
		t.Fatalf("size after reload = %d, want 1", second.Size())
	}
	entry, _ := second.Peek()
	if entry.Output != "s3-archive" || entry.Error != "timeout" {
		t.Errorf("entry = %+v", entry)
	}
	if len(entry.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(entry.Records))
	}
	r := entry.Records[0]
	if r.Message != "apply started" || r.Phase != types.PhaseApply || r.RequestID != "req-1" || !r.WellFormed {
		t.Errorf("record not restored: %+v", r)
	}
}

func TestDLQ_Retry(t *testing.T) {
	dlq := newQueue(t, Config{})
	defer dlq.Close()

	_ = dlq.Enqueue("out", batch("a"), errors.New("fail"))
	entry, _ := dlq.Dequeue()

	if err := dlq.Retry(entry); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	again, _ := dlq.Dequeue()
	if again.Retries != 1 {
		t.Errorf("retries = %d, want 1", again.Retries)
	}
}

func TestDLQ_Cleanup(t *testing.T) {
	dlq := newQueue(t, Config{MaxAge: time.Hour})
	defer dlq.Close()

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	dlq.now = func() time.Time { return base }
	_ = dlq.Enqueue("old", batch("a"), nil)

	dlq.now = func() time.Time { return base.Add(90 * time.Minute) }
	_ = dlq.Enqueue("new", batch("b"), nil)

	dlq.cleanup()

	all, _ := dlq.GetAll()
	if len(all) != 1 || all[0].Output != "new" {
		t.Errorf("entries after cleanup = %+v", all)
	}
}

func TestDLQ_Metrics(t *testing.T) {
	dlq := newQueue(t, Config{MaxSize: 4})
	defer dlq.Close()

	_ = dlq.Enqueue("out", batch("a"), nil)
	_ = dlq.Enqueue("out", batch("b"), nil)
	_, _ = dlq.Dequeue()

	m := dlq.Metrics()
	if m.Enqueued != 2 || m.Dequeued != 1 || m.CurrentSize != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if got := m.Utilization(); got != 25 {
		t.Errorf("utilization = %v, want 25", got)
	}
}

func TestDLQ_Close(t *testing.T) {
	dlq := newQueue(t, Config{})

	if err := dlq.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := dlq.Close(); !errors.Is(err, ErrDLQClosed) {
		t.Errorf("second Close() = %v, want ErrDLQClosed", err)
	}
	if err := dlq.Enqueue("out", batch("a"), nil); !errors.Is(err, ErrDLQClosed) {
		t.Errorf("Enqueue() after close = %v, want ErrDLQClosed", err)
	}
}
