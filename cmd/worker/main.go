package main

import (
	"github.com/ilindan-dev/notification-scheduler/internal/app"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// main is the entry point for the background worker application.
func main() {
	_ = godotenv.Load()

	fx.New(app.WorkerModule).Run()
}
