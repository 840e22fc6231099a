package main

import "github.com/Togather-Foundation/eventbook/cmd/server/cmd"

func main() {
	cmd.Execute()
}
