package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironvpn/revocation"
)

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Certificate revocation list commands",
}

var crlShowPEM bool

var crlShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the local CRL and the last confirmed publication",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			doc, err := a.manager.CurrentCRL()
			if err != nil {
				return err
			}
			if crlShowPEM {
				_, err := cmd.OutOrStdout().Write(doc.PEM)
				return err
			}
			ps, err := a.manager.LastPublished()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printDocument(w, doc)
			if ps.Version == 0 {
				fmt.Fprintln(w, "Published:    never")
			} else {
				fmt.Fprintf(w, "Published:    version %d at %s (%s)\n", ps.Version, ps.Location, ps.PublishedAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var crlPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Render the CRL and publish it to the distribution store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ps, err := a.manager.PublishCRL(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published version %d to %s (sha256 %s)\n", ps.Version, ps.Location, ps.Digest)
			return nil
		})
	},
}

var crlSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Republish or reimport the CRL wherever it is behind the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			endpoint := ""
			if a.cfg.Gateway.Enabled {
				endpoint = a.cfg.EndpointID(vpnEndpoint)
			}
			report, err := a.manager.SyncRevocations(cmd.Context(), endpoint)
			if report != nil {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Ledger version:   %d\n", report.LedgerVersion)
				fmt.Fprintf(w, "Store version:    %d\n", report.StoreVersion)
				if endpoint != "" {
					fmt.Fprintf(w, "Gateway version:  %d\n", report.GatewayVersion)
				}
				for _, n := range report.Notes {
					fmt.Fprintf(w, "  %s\n", n)
				}
				if !report.Republished && !report.Reimported {
					fmt.Fprintln(w, "Everything is current.")
				}
			}
			return err
		})
	},
}

func init() {
	crlShowCmd.Flags().BoolVar(&crlShowPEM, "pem", false, "Print the CRL PEM")
	crlSyncCmd.Flags().StringVar(&vpnEndpoint, "vpn-endpoint", "", "Client VPN endpoint ID (default: configuration, then deployment info)")
	crlCmd.AddCommand(crlShowCmd, crlPublishCmd, crlSyncCmd)
	rootCmd.AddCommand(crlCmd)
}

func printDocument(w io.Writer, doc *revocation.Document) {
	fmt.Fprintf(w, "CRL number:   %d\n", doc.Number)
	fmt.Fprintf(w, "This update:  %s\n", doc.ThisUpdate.Format(time.RFC3339))
	fmt.Fprintf(w, "Next update:  %s\n", doc.NextUpdate.Format(time.RFC3339))
	fmt.Fprintf(w, "Revoked:      %d serial(s) %v\n", len(doc.Serials), doc.Serials)
	fmt.Fprintf(w, "SHA-256:      %s\n", doc.Digest())
}
