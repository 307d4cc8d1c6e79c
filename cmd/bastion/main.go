package main

import (
	"log"

	"github.com/aussiebroadwan/bastion/internal/auth/app"
)

func main() {
	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize bastion: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("bastion error: %v", err)
	}
}
