package main

import (
	"flowwatch/internal/cli"
)

func main() {
	cli.Execute()
}
