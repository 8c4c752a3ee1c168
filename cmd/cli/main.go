package main

import (
	"os"

	"github.com/kamiwaza-ai/appgarden/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
