package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/voltmap/voltmap/internal/sanitize"
	"github.com/voltmap/voltmap/internal/station"
)

func checkFeed(ctx context.Context, w io.Writer, path string, strict bool) error {
	raws, err := station.NewFileSource(path).Fetch(ctx)
	if err != nil {
		return err
	}

	accepted, rejected := station.AcceptAll(raws)

	degraded := 0
	for _, st := range accepted {
		if !st.Degraded() {
			fmt.Fprintf(w, "ok        %s  %s\n", st.DisplayID(), sanitize.Text(st.Name()))
			continue
		}
		degraded++
		issues := make([]string, 0, len(st.Issues()))
		for _, issue := range st.Issues() {
			issues = append(issues, string(issue))
		}
		fmt.Fprintf(w, "degraded  %s  %s  (%s)\n", st.DisplayID(), sanitize.Text(st.Name()), strings.Join(issues, ", "))
	}
	for _, r := range rejected {
		id := r.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "rejected  #%d %s  %v\n", r.Index, sanitize.Text(id), r.Reason)
	}

	fmt.Fprintf(w, "\n%d records: %d accepted (%d degraded), %d rejected\n",
		len(raws), len(accepted), degraded, len(rejected))

	if strict && len(rejected) > 0 {
		return fmt.Errorf("%d of %d records rejected", len(rejected), len(raws))
	}
	return nil
}
