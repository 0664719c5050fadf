package main

import (
	approuters "Boxchat/internal/app_routers"
	"Boxchat/internal/configuration"
	"log"
)

func main() {
	config, err := configuration.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	container, err := configuration.BuildContainer(config)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	// Setup routers
	approuters.StartServer(container)
}
