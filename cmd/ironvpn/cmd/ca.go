package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironvpn/ledger"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Certificate authority commands",
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the certificate authority",
	Long: `Generate the CA key and self-signed certificate in the data directory and
record them in the ledger. With the remote certificate service enabled the CA
certificate is imported into ACM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			state, err := a.manager.InitCA(cmd.Context())
			if err != nil {
				return err
			}
			printCA(cmd.OutOrStdout(), state)
			return nil
		})
	},
}

var caImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the CA certificate into the remote certificate service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			state, err := a.manager.ImportCA(cmd.Context())
			if err != nil {
				return err
			}
			printCA(cmd.OutOrStdout(), state)
			return nil
		})
	},
}

var caShowPEM bool

var caShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the certificate authority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			state, err := a.manager.CA()
			if err != nil {
				return err
			}
			certPEM, err := a.manager.CACertificatePEM()
			if err != nil {
				return err
			}
			if caShowPEM {
				_, err := cmd.OutOrStdout().Write(certPEM)
				return err
			}
			printCA(cmd.OutOrStdout(), state)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(caCmd)
	caCmd.AddCommand(caInitCmd, caImportCmd, caShowCmd)
	caShowCmd.Flags().BoolVar(&caShowPEM, "pem", false, "Print the CA certificate PEM")
}

func printCA(w io.Writer, s *ledger.CAState) {
	fmt.Fprintf(w, "Subject:      %s\n", s.Subject)
	fmt.Fprintf(w, "Serial:       %d\n", s.Serial)
	fmt.Fprintf(w, "Valid:        %s to %s\n", s.NotBefore.Format(time.DateOnly), s.NotAfter.Format(time.DateOnly))
	fmt.Fprintf(w, "Key:          %s\n", s.KeyAlgorithm)
	fmt.Fprintf(w, "Fingerprint:  %s\n", s.Fingerprint)
	fmt.Fprintf(w, "Next serial:  %d\n", s.NextSerial)
	fmt.Fprintf(w, "Revocations:  %d\n", s.RevocationSeq)
	if s.RemoteID != "" {
		fmt.Fprintf(w, "Remote ID:    %s\n", s.RemoteID)
	}
}
