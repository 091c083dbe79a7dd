package main

import (
	"os"

	"github.com/toricodesthings/document-ingestion-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
