package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fieldline/fieldline/internal/client/cli"
)

// Информация о версии, заполняется при сборке через ldflags
var (
	buildVersion = "N/A"
	buildDate    = "N/A"
)

func main() {
	cli.SetVersion(fmt.Sprintf("%s (built %s)", buildVersion, buildDate))

	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
