package main

import "lunchbox-backend/cmd/lunch-cli/cmd"

func main() {
	cmd.Execute()
}
