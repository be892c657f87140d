package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Revocation operation log",
}

var opsAll bool

var opsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unfinished revocation operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ops, err := a.manager.Operations()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tNAME\tSERIAL\tCREATED\tSTATUS")
			for _, op := range ops {
				if op.Done && !opsAll {
					continue
				}
				status := "done"
				if !op.Done {
					status = fmt.Sprintf("pending %v", op.Pending())
					if op.FailedStep != "" {
						status = fmt.Sprintf("failed at %s: %s", op.FailedStep, op.LastError)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					op.ID, op.Kind, op.Name, op.Serial, op.CreatedAt.Format(time.RFC3339), status)
			}
			return tw.Flush()
		})
	},
}

var opsResumeCmd = &cobra.Command{
	Use:   "resume <operation-id>",
	Short: "Continue an operation from its first unconfirmed step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			op, err := a.manager.Resume(cmd.Context(), args[0])
			return reportOperation(cmd.OutOrStdout(), op, err)
		})
	},
}

func init() {
	opsListCmd.Flags().BoolVar(&opsAll, "all", false, "Include finished operations")
	opsCmd.AddCommand(opsListCmd, opsResumeCmd)
	rootCmd.AddCommand(opsCmd)
}
