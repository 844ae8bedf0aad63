package main

import (
	"smart-harvester/internal/cli"
)

func main() {
	cli.Execute()
}
