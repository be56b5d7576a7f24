package main

import "github.com/oshokin/node-upgrader/cmd/node-upgrader/cmd"

func main() {
	cmd.Execute()
}
