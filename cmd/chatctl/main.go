// Command chatctl is a small client for the twitch-chat-metrics HTTP API.
//
// Usage:
//
//	chatctl status
//	chatctl overview
//	chatctl giveaway show|draw|clear
//	chatctl giveaway prefix <text>
//	chatctl channel set <name>
//
// The server address and admin credentials come from flags, CHATCTL_*
// environment variables (a .env file is honored), or ~/.chatctl.yaml.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
