// main package for the pdf-podcast CLI.
package main

import (
	"os"

	"github.com/yheihei/pdf-to-podcast/cmd/pdf-podcast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
