package main

import (
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/metinatakli/paygate/internal/app"
)

func main() {
	err := app.Run()
	if err != nil {
		slog.Error("paygate exited", "error", err)
		os.Exit(1)
	}
}
