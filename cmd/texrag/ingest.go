package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/texrag"
)

var ingestForce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf> [more.pdf ...]",
	Short: "Extract, chunk, embed and index PDF documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-process even if the file is unchanged")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	var failed int
	for _, path := range args {
		fmt.Println(titleStyle.Render("Ingesting " + path))
		start := time.Now()

		var opts []texrag.IngestOption
		if ingestForce {
			opts = append(opts, texrag.WithForceReparse())
		}
		docID, err := eng.Ingest(ctx, path, opts...)
		if err != nil {
			failed++
			fmt.Println(failStyle.Render("  error: " + err.Error()))
			continue
		}
		fmt.Printf("  %s doc_id=%d (%s)\n",
			okStyle.Render("indexed"), docID, time.Since(start).Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}
