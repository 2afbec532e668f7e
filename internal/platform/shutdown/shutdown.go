package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// forceExit ends the process when a second signal arrives mid-drain.
var forceExit = func() { os.Exit(1) }

// NotifyContext is cancelled on the first SIGINT or SIGTERM so in-flight
// generation tasks and cascade steps can drain. A second signal exits
// immediately. log may be nil.
func NotifyContext(parent context.Context, log *logger.Logger) (context.Context, context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := watch(parent, log, sigs)
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func watch(parent context.Context, log *logger.Logger, sigs <-chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopped) })
		cancel()
	}
	go func() {
		select {
		case sig := <-sigs:
			if log != nil {
				log.Info("shutdown signal received, draining", "signal", sig.String())
			}
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigs:
			if log != nil {
				log.Warn("second signal received, exiting", "signal", sig.String())
			}
			forceExit()
		case <-stopped:
		}
	}()
	return ctx, stop
}
