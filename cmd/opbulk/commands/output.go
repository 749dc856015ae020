package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/systmms/opbulk/internal/actions"
	"github.com/systmms/opbulk/internal/permissions"
	"github.com/systmms/opbulk/internal/search"
)

func printMatches(out io.Writer, matches []search.Match) {
	if len(matches) == 0 {
		_, _ = fmt.Fprintln(out, "No matching items found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "VAULT\tITEM\tTITLE\tFIELD\n")
	_, _ = fmt.Fprintf(w, "-----\t----\t-----\t-----\n")
	for _, m := range matches {
		field := m.Field.Label
		if field == "" {
			field = m.Field.ID
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.VaultID, m.ItemID, m.Title, field)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d matching item(s)\n", len(matches))
}

func printSummary(out io.Writer, s permissions.Summary) {
	_, _ = fmt.Fprintln(out, s.String())
	if len(s.Failures) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "\nFailures:")
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(out, "  ✗ %s\n", f.Error())
	}
}

func printResult(out io.Writer, res actions.Result) {
	if res.Summary != nil {
		printSummary(out, *res.Summary)
		return
	}
	printMatches(out, res.Matches)
}
