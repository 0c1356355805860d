package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		docs, err := eng.ListDocuments(context.Background())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println(dimStyle.Render("no documents ingested"))
			return nil
		}
		for _, d := range docs {
			status := okStyle
			if d.Status != "ready" {
				status = warnStyle
			}
			fmt.Printf("%4d  %s  %s  %s  %s\n",
				d.ID,
				status.Render(fmt.Sprintf("%-10s", d.Status)),
				fmt.Sprintf("%-8s", d.ParseMethod),
				dimStyle.Render(fmt.Sprintf("formulas %d/%d", d.FormulaResolved, d.FormulaTotal)),
				d.Filename)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Remove a document and its index data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.Delete(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("%s doc_id=%d\n", okStyle.Render("deleted"), id)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Re-ingest documents whose files changed on disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		results, err := eng.UpdateAll(context.Background())
		if err != nil {
			return err
		}
		for _, r := range results {
			switch {
			case r.Error != nil:
				fmt.Printf("%s %s: %v\n", failStyle.Render("error"), r.Path, r.Error)
			case r.Changed:
				fmt.Printf("%s %s\n", okStyle.Render("updated"), r.Path)
			default:
				fmt.Printf("%s %s\n", dimStyle.Render("unchanged"), r.Path)
			}
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		st, err := eng.Store().Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%s %d\n", dimStyle.Render("documents: "), st.Documents)
		fmt.Printf("%s %d\n", dimStyle.Render("chunks:    "), st.Chunks)
		fmt.Printf("%s %d\n", dimStyle.Render("embeddings:"), st.Embeddings)
		fmt.Printf("%s %d\n", dimStyle.Render("formulas:  "), st.Formulas)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, deleteCmd, updateCmd, statsCmd)
}
