package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/loom-backend/internal/app"
)

func main() {
	a, err := app.New(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	if err := a.Run(); err != nil {
		a.Log.Fatal("server exited", "error", err)
	}
}
