package main

import (
	"context"
	"os"

	"squatwall/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(config.Load()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
