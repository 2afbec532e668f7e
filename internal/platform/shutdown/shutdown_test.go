package shutdown

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

func TestFirstSignalCancelsSecondExits(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	exited := make(chan struct{})
	prev := forceExit
	forceExit = func() { close(exited) }
	t.Cleanup(func() { forceExit = prev })

	sigs := make(chan os.Signal, 2)
	ctx, stop := watch(context.Background(), log, sigs)
	defer stop()

	sigs <- syscall.SIGTERM
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("context not cancelled by first signal")
	}
	select {
	case <-exited:
		t.Fatalf("exited on first signal")
	default:
	}

	sigs <- syscall.SIGINT
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatalf("second signal did not force exit")
	}
}

func TestStopWithoutSignal(t *testing.T) {
	prev := forceExit
	forceExit = func() { t.Errorf("unexpected exit") }
	t.Cleanup(func() { forceExit = prev })

	ctx, stop := watch(context.Background(), nil, make(chan os.Signal))
	stop()
	stop()
	if ctx.Err() == nil {
		t.Fatalf("stop did not cancel")
	}
}
