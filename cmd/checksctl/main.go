package main

import "github.com/Checker-Finance/checks-optimizer/internal/cli"

func main() {
	cli.Execute()
}
