package main

import "github.com/pagehaul/pagehaul/cmd/pagehaul/cmd"

func main() {
	cmd.Execute()
}
