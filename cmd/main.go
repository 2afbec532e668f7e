package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/neurobridge-lifecycle/internal/app"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/shutdown"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := shutdown.NotifyContext(context.Background(), a.Log)
	defer stop()

	if err := a.Run(ctx); err != nil {
		a.Log.Error("server exited", "error", err)
		a.Close()
		os.Exit(1)
	}
}
