package main

import "github.com/joan6141318-ai/Moon-sub000/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
