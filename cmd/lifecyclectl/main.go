// Command lifecyclectl inspects lookahead state and plans, runs and resumes
// cascade deletions against the configured store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background(), nil)
	defer stop()

	if err := newRootCmd(openApp).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
