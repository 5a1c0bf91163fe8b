package main

import (
	"os"

	"github.com/kurodenjiro/cryto-chat/cmd/cryptrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
