package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/manager"
)

var (
	serverDomain string
	serverACM    bool
)

var createServerCmd = &cobra.Command{
	Use:   "create-server",
	Short: "Issue a server certificate",
	Long: `Issue a server certificate for a domain. By default the private CA signs it
and, with the remote certificate service enabled, it is imported into ACM with
the CA as chain. With --acm a public certificate is requested from ACM and must
be validated through DNS.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			c, err := a.manager.CreateServer(cmd.Context(), serverDomain, serverACM)
			if c != nil {
				printCertificate(cmd.OutOrStdout(), c)
			}
			if err != nil {
				return err
			}
			if serverACM {
				fmt.Fprintln(cmd.OutOrStdout(), "Validate the certificate in the ACM console.")
			}
			return nil
		})
	},
}

var (
	deleteARN   string
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a certificate from ACM",
	Long: `Delete a certificate from ACM. A ledger record referencing it keeps its
history and loses the reference. Deleting the CA's certificate needs --force.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.manager.Delete(cmd.Context(), deleteARN, deleteForce); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Certificate deleted: %s\n", deleteARN)
			return nil
		})
	},
}

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates and reconcile them with ACM and the local files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			report, err := a.manager.List(cmd.Context())
			if err != nil {
				return err
			}
			if listJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

func init() {
	createServerCmd.Flags().StringVar(&serverDomain, "domain", "", "Domain for the server certificate")
	createServerCmd.MarkFlagRequired("domain")
	createServerCmd.Flags().BoolVar(&serverACM, "acm", false, "Request a public certificate from ACM instead of signing locally")

	deleteCmd.Flags().StringVar(&deleteARN, "cert-arn", "", "ARN of the certificate to delete")
	deleteCmd.MarkFlagRequired("cert-arn")
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Allow deleting the CA certificate")

	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output the report as JSON")

	rootCmd.AddCommand(createServerCmd, deleteCmd, listCmd)
}

func printReport(w io.Writer, r *manager.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tSERIAL\tSTATE\tEXPIRES\tFILES\tREMOTE")
	for _, e := range r.Entries {
		c := e.Certificate
		state := string(c.State)
		if c.SupersededBy != "" {
			state += " (superseded)"
		}
		files := "-"
		if c.Source == ledger.SourceLocal {
			files = fmt.Sprintf("key:%s cert:%s", yesNo(e.HasKey), yesNo(e.HasCert))
		}
		remote := "-"
		switch {
		case e.Remote != nil:
			remote = e.Remote.Status + " " + e.Remote.ID
		case c.RemoteID != "":
			remote = "? " + c.RemoteID
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			c.Kind, c.Name, c.Serial, state, c.NotAfter.Format(time.DateOnly), files, remote)
	}
	tw.Flush()

	if !r.RemoteChecked {
		fmt.Fprintln(w, "\nRemote certificate service not configured; ACM was not checked.")
	}
	if len(r.Discrepancies) == 0 {
		fmt.Fprintln(w, "\nNo discrepancies.")
		return
	}
	fmt.Fprintf(w, "\n%d discrepancy(ies):\n", len(r.Discrepancies))
	for _, d := range r.Discrepancies {
		fmt.Fprintf(w, "  %-20s %s", d.Kind, d.Name)
		if d.Serial != 0 {
			fmt.Fprintf(w, " (serial %d)", d.Serial)
		}
		if d.RemoteID != "" {
			fmt.Fprintf(w, " %s", d.RemoteID)
		}
		fmt.Fprintf(w, ": %s\n", d.Detail)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
