package cmd

import (
	"log"

	"wpdock/internal/cli/ui"
)

func RunDashboard() {
	for {
		name, err := ui.RunDashboard(Client)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		if name == "" {
			return
		}
		back, err := ui.RunSite(Client, name)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		if !back {
			return
		}
	}
}
