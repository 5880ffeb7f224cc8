package main

import (
	"os"

	"farmapp/backend/server"

	"github.com/apex/log"
)

func main() {
	log.Info("Hello!")
	if err := server.StartService(); err != nil {
		log.Errorf("Service stopped: %v", err)
		os.Exit(1)
	}
	log.Info("Bye!")
}
