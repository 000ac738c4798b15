package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sqlagent/sqlagent/internal/cli/local"
	"github.com/sqlagent/sqlagent/internal/config"
)

func main() {
	_ = godotenv.Load()

	root := local.NewRootCommand(local.Environment{
		LoadConfig: func() (config.Config, error) {
			return config.LoadFromEnv("sqlagent")
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
