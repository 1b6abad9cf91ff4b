package main

import (
	"fmt"
	"os"

	"github.com/iliyamo/event-seat-reservation/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "teactl:", err)
		os.Exit(1)
	}
}
