package main

import (
	"os"

	"github.com/gcolon75/Project-Valine-sub002/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
