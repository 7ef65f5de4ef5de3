package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/cloudsim/pkg/orchestrator"
	"github.com/openfroyo/cloudsim/pkg/status"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printProvisionResult(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "Provision run %s\n", res.RunID)

	tw := newTable(w)
	fmt.Fprintln(tw, "KIND\tID\tNAME\tRESULT")
	for _, h := range res.Created {
		fmt.Fprintf(tw, "%s\t%s\t%s\tcreated\n", h.Kind, h.ID, h.Name)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(tw, "%s\t-\t%s\tfailed: %v\n", f.Kind, orDash(f.Name), f.Err)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(tw, "%s\t-\t%s\tskipped\n", s.Kind, orDash(s.Name))
	}
	_ = tw.Flush()

	for _, v := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", v)
	}
	fmt.Fprintf(w, "%d created, %d failed, %d skipped\n", len(res.Created), len(res.Failures), len(res.Skipped))
}

func printDestroyReport(w io.Writer, rep *orchestrator.DestroyReport) {
	fmt.Fprintf(w, "Destroy run %s: %d destroyed, %d failed\n", rep.RunID, len(rep.Destroyed), len(rep.Failures))
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  %s %s: %v\n", f.Handle.Kind, f.Handle.Key(), f.Err)
	}
}

func printSnapshot(w io.Writer, snap *status.Snapshot) {
	fmt.Fprintf(w, "Status at %s (%d resources)\n", snap.TakenAt.Format("2006-01-02 15:04:05"), snap.Total())
	for _, kind := range snap.OrderedKinds() {
		ks := snap.Kind(kind)
		fmt.Fprintf(w, "\n%s (%d)%s\n", kind, ks.Count, formatTotals(ks.Totals))
		if ks.Count == 0 {
			continue
		}
		tw := newTable(w)
		fmt.Fprintln(tw, "  ID\tNAME\tSTATE\tDETAILS")
		for _, r := range ks.Resources {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", r.ID, orDash(r.Name), r.State, formatDetails(r.Details))
		}
		_ = tw.Flush()
	}
}

func formatTotals[S ~string](totals map[S]int) string {
	if len(totals) == 0 {
		return ""
	}
	parts := make([]string, 0, len(totals))
	for _, s := range slices.Sorted(maps.Keys(totals)) {
		parts = append(parts, fmt.Sprintf("%s=%d", s, totals[s]))
	}
	return " " + strings.Join(parts, " ")
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(details))
	for _, k := range slices.Sorted(maps.Keys(details)) {
		parts = append(parts, k+"="+details[k])
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
