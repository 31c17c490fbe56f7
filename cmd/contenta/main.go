// Command contenta provisions a WordPress site for one job by running the
// numbered deployment steps.
package main

import (
	"os"

	"github.com/kingrea/contenta/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
