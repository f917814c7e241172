package main

import "github.com/DrSkyle/cloudtail/cmd/cloudtail/commands"

func main() {
	commands.Execute()
}
