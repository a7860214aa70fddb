package main

import (
	"github.com/ilindan-dev/notification-scheduler/internal/app"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// main is the entry point for the API server application.
func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	fx.New(app.APIModule).Run()
}
