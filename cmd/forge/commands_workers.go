package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildWorkersCmd creates the "workers" command group.
func buildWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect the built-in example workers",
	}
	cmd.AddCommand(buildWorkersListCmd())
	return cmd
}

func buildWorkersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the workers forge serve registers on startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, worker := range builtinWorkers() {
				caps := make([]string, 0, len(worker.Capabilities))
				for cap := range worker.Capabilities {
					caps = append(caps, string(cap))
				}
				fmt.Fprintf(out, "%s (%s) capabilities=%v tools=%d\n", worker.ID, worker.Name, caps, len(worker.Tools))
			}
			return nil
		},
	}
}
