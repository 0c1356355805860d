package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var extractOut string

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Run the formula pipeline on one PDF without indexing it",
	Long: `Extract runs detection, marker injection, structural parsing and
vision resolution for a single document and prints the processing
summary. The resulting markdown goes to stdout or --out.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "write markdown to this file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.ExtractFormulas(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, renderSummary(res))

	if extractOut != "" {
		return os.WriteFile(extractOut, []byte(res.Markdown), 0o644)
	}
	fmt.Println(res.Markdown)
	return nil
}
