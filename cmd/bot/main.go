package main

import (
	"github.com/kayi2215/bot/internal/cli"
)

func main() {
	cli.Execute()
}
