package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orrn/makerspool/internal/db"
)

// MachinesCmd prints the last persisted fleet snapshot. A running server may
// hold changes newer than its latest snapshot.
func MachinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "List machines and their queues from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := openDB(); err != nil {
				return err
			}

			ctx := context.Background()
			showJobs, _ := cmd.Flags().GetBool("jobs")

			machines, err := db.Machines.ListMachines(ctx)
			if err != nil {
				return fmt.Errorf("failed to list machines: %w", err)
			}
			if len(machines) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No machines.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MACHINE\tSTATUS\tJOBS")
			for _, m := range machines {
				fmt.Fprintf(w, "%s\t%s\t%d\n", m.Name, m.Status, m.JobCount)
				if !showJobs {
					continue
				}
				jobs, err := db.Jobs.ListJobs(ctx, m.Name)
				if err != nil {
					return fmt.Errorf("failed to list jobs for %s: %w", m.Name, err)
				}
				for _, job := range jobs {
					fmt.Fprintf(w, "  %s\t%s %s\t%dm %s\n", job.Name, job.Status, job.Priority, job.Duration, job.Owner)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("jobs", false, "also list each machine's queue")
	return cmd
}
