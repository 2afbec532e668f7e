package bus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

func TestMemoryBusDeliversCompletions(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	b := NewMemoryBus(log)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan CompletionEvent, 1)
	if err := b.StartConsumer(ctx, func(_ context.Context, ev CompletionEvent) { got <- ev }); err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	want := CompletionEvent{VirtualContentUnitID: uuid.New(), Score: 0.75}
	if err := b.PublishCompletion(ctx, want); err != nil {
		t.Fatalf("PublishCompletion: %v", err)
	}
	select {
	case ev := <-got:
		if ev != want {
			t.Fatalf("got %+v want %+v", ev, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestTaskNotifierPublishesNotice(t *testing.T) {
	log, _ := logger.New("test")
	b := NewMemoryBus(log)
	n := NewTaskNotifier(b, log)

	task := &types.GenerationTask{ID: uuid.New(), LearnerID: uuid.New(), TopicID: uuid.New()}
	n.TaskFailed(context.Background(), task, "synth down")

	notices := b.Notices()
	if len(notices) != 1 || notices[0].Type != NoticeTaskFailed || notices[0].TaskID != task.ID {
		t.Fatalf("unexpected notices %+v", notices)
	}
}

func TestDecodeCompletion(t *testing.T) {
	if _, err := DecodeCompletion([]byte(`{"score":1}`)); err == nil {
		t.Fatalf("expected error for missing unit id")
	}
	id := uuid.New()
	ev, err := DecodeCompletion([]byte(`{"virtual_content_unit_id":"` + id.String() + `","score":0.5}`))
	if err != nil || ev.VirtualContentUnitID != id || ev.Score != 0.5 {
		t.Fatalf("DecodeCompletion: ev=%+v err=%v", ev, err)
	}
}

func TestFullMemoryBusDoesNotBlockOtherCallers(t *testing.T) {
	log, _ := logger.New("test")
	b := NewMemoryBus(log)
	ctx := context.Background()

	// No consumer: fill the buffer so the next publisher waits.
	for i := 0; i < 256; i++ {
		if err := b.PublishCompletion(ctx, CompletionEvent{VirtualContentUnitID: uuid.New()}); err != nil {
			t.Fatalf("PublishCompletion %d: %v", i, err)
		}
	}
	blocked := make(chan error, 1)
	go func() { blocked <- b.PublishCompletion(ctx, CompletionEvent{VirtualContentUnitID: uuid.New()}) }()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := b.PublishCompletion(short, CompletionEvent{}); err != context.DeadlineExceeded {
		t.Fatalf("second publisher: got %v, want deadline exceeded", err)
	}

	noticed := make(chan struct{})
	go func() {
		_ = b.PublishNotice(ctx, Notice{Type: "task_done"})
		_ = b.Notices()
		close(noticed)
	}()
	select {
	case <-noticed:
	case <-time.After(2 * time.Second):
		t.Fatalf("notices blocked behind a full completion buffer")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-blocked:
		if err == nil {
			t.Fatalf("blocked publisher should fail once the bus closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not release the blocked publisher")
	}
	if err := b.PublishCompletion(ctx, CompletionEvent{}); err == nil {
		t.Fatalf("publish after close should fail")
	}
}
