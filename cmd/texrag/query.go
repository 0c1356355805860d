package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/texrag"
)

var (
	queryMaxResults int
	querySources    bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryMaxResults, "max-results", "n", 20, "maximum chunks to retrieve")
	queryCmd.Flags().BoolVarP(&querySources, "sources", "s", false, "show source snippets")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	question := strings.Join(args, " ")
	answer, err := eng.Query(context.Background(), question,
		texrag.WithMaxResults(queryMaxResults))
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)

	if querySources {
		fmt.Println()
		fmt.Println(titleStyle.Render("Sources"))
		for i, s := range answer.Sources {
			marker := " "
			if s.HasFormula {
				marker = okStyle.Render("ƒ")
			}
			line := fmt.Sprintf("[%d]%s %s", i+1, marker, s.Filename)
			if s.Heading != "" {
				line += dimStyle.Render(" · " + s.Heading)
			}
			fmt.Println(line)
			if s.Snippet != "" {
				fmt.Println(dimStyle.Render("    " + s.Snippet))
			}
		}
	}

	if verbose && answer.RetrievalTrace != nil {
		t := answer.RetrievalTrace
		fmt.Println(dimStyle.Render(fmt.Sprintf(
			"retrieval: vec=%d fts=%d fused=%d notation=%v formula_intent=%v elapsed=%dms",
			t.VecResults, t.FTSResults, t.FusedResults,
			t.NotationDetected, t.FormulaIntent, t.ElapsedMs)))
	}
	return nil
}
