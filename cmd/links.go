package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webmonitor/internal/app"
)

func newLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links",
		Short: "List registered links and their last check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			links, err := store.ListLinks(cmd.Context())
			if err != nil {
				return fmt.Errorf("list links: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tSTATUS\tLAST CHECKED\tURL")
			for _, l := range links {
				status, checked := "-", "-"
				if l.LastStatus != nil {
					status = string(*l.LastStatus)
				}
				if l.LastChecked != nil {
					checked = l.LastChecked.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.Label, status, checked, l.URL)
			}
			return w.Flush()
		},
	}
}
