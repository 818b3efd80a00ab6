package main

import "solstep-cli/cmd"

func main() {
	cmd.Execute()
}
