// Package cmd implements the pdf-podcast command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pdf-podcast",
	Short: "Generate a podcast episode from a PDF document",
	Long: `pdf-podcast turns a PDF document into a narrated podcast episode.

It detects the document's chapter structure, generates a lecture script per
chapter, synthesizes speech for each script, and assembles the results into
a single episode with navigable chapter markers. Progress is persisted to a
manifest so interrupted runs resume where they left off.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
