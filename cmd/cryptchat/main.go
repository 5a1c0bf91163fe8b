package main

import (
	"os"

	"github.com/kurodenjiro/cryto-chat/cmd/cryptchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
