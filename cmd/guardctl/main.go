package main

import "github.com/fernandezvara/guardkit/cmd/guardctl/cmd"

func main() {
	cmd.Execute()
}
