// shore runs OCEAN X-ray absorption calculations on a compute cluster and
// tracks their progress.
package main

import (
	"os"

	"github.com/shore-hpc/shore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
