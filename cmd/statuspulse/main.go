package main

import "github.com/statuspulse/statuspulse/cmd/statuspulse/commands"

func main() {
	commands.Execute()
}
