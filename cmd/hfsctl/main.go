package main

import "github.com/marmos91/dittohfs/cmd/hfsctl/commands"

func main() {
	commands.Execute()
}
