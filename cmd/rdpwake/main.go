// rdpwake wakes remote PCs via Wake-on-LAN and checks their Terminal
// Services sessions before a Remote Desktop connection is made.
package main

import (
	"os"

	"github.com/rdpwake/rdpwake/cmd/rdpwake/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
