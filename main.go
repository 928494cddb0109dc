package main

import "perpscope/internal/cli"

func main() {
	cli.Execute()
}
