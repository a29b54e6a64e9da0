package main

import "merchant-guard/internal/cli"

func main() {
	cli.Execute()
}
