package main

import "wpdock/internal/cli/cmd"

func main() {
	cmd.Execute()
}
