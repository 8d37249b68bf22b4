package main

import "github.com/aibarena/aibarena/internal/cli"

func main() {
	cli.Execute()
}
