package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/manager"
)

var (
	clientName  string
	vpnEndpoint string
)

func addClientFlags(cmd *cobra.Command, endpoint bool) {
	cmd.Flags().StringVar(&clientName, "client-name", "", "Client identity (certificate common name)")
	cmd.MarkFlagRequired("client-name")
	if endpoint {
		cmd.Flags().StringVar(&vpnEndpoint, "vpn-endpoint", "", "Client VPN endpoint ID (default: configuration, then deployment info)")
	}
}

var createClientCmd = &cobra.Command{
	Use:   "create-client",
	Short: "Issue a client certificate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			c, err := a.manager.CreateClient(cmd.Context(), clientName)
			if err != nil {
				return err
			}
			printCertificate(cmd.OutOrStdout(), c)
			fmt.Fprintf(cmd.OutOrStdout(), "Key:          %s\n", a.files.ClientKeyPath(c.Name))
			fmt.Fprintf(cmd.OutOrStdout(), "Certificate:  %s\n", a.files.ClientCertPath(c.Name))
			return nil
		})
	},
}

var addUserCmd = &cobra.Command{
	Use:   "add-user",
	Short: "Issue a client certificate and write its .ovpn bundle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			c, path, err := a.manager.AddUser(cmd.Context(), clientName, a.cfg.EndpointID(vpnEndpoint))
			var bundleErr *manager.BundleError
			if errors.As(err, &bundleErr) {
				printCertificate(cmd.OutOrStdout(), c)
				fmt.Fprintf(cmd.OutOrStdout(), "\nThe certificate is active. Run generate-ovpn to retry the bundle, or revoke-user if it is not needed.\n")
				return err
			}
			if err != nil {
				return err
			}
			printCertificate(cmd.OutOrStdout(), c)
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file: %s\n", path)
			return nil
		})
	},
}

var generateOVPNCmd = &cobra.Command{
	Use:   "generate-ovpn",
	Short: "Write the .ovpn bundle of an existing client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			path, err := a.manager.GenerateBundle(cmd.Context(), clientName, a.cfg.EndpointID(vpnEndpoint))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Client configuration generated: %s\n", path)
			return nil
		})
	},
}

var removeUserCmd = &cobra.Command{
	Use:   "remove-user",
	Short: "Delete a client's local key, certificate and bundle",
	Long: `Delete a client's local key, certificate and .ovpn bundle. The ledger is not
changed and the certificate still authenticates: use revoke-user or ban-user
to block access.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			removed, err := a.manager.RemoveUserLocalFiles(clientName)
			if err != nil {
				return err
			}
			for _, p := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "WARNING: VPN access for %s is unaffected until the certificate is revoked.\n", clientName)
			return nil
		})
	},
}

var revokeUserCmd = &cobra.Command{
	Use:   "revoke-user",
	Short: "Revoke a client certificate and publish the CRL",
	Long: `Revoke a client certificate, publish the CRL and, when an endpoint is known,
import the CRL into it. Live sessions are not terminated; see ban-user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			op, err := a.manager.RevokeUser(cmd.Context(), clientName, a.cfg.EndpointID(vpnEndpoint))
			return reportOperation(cmd.OutOrStdout(), op, err)
		})
	},
}

var banUserCmd = &cobra.Command{
	Use:   "ban-user",
	Short: "Revoke a client, update the endpoint and disconnect its sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			op, err := a.manager.BanUser(cmd.Context(), clientName, a.cfg.EndpointID(vpnEndpoint))
			return reportOperation(cmd.OutOrStdout(), op, err)
		})
	},
}

var showUserCmd = &cobra.Command{
	Use:   "show-user",
	Short: "Show every certificate issued to a client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			certs, err := a.manager.History(clientName)
			if err != nil {
				return err
			}
			for i := range certs {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				printCertificate(cmd.OutOrStdout(), &certs[i])
				if certs[i].RevokedAt != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Revoked:      %s\n", certs[i].RevokedAt.Format(time.RFC3339))
				}
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{createClientCmd, removeUserCmd, showUserCmd} {
		addClientFlags(c, false)
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{addUserCmd, generateOVPNCmd, revokeUserCmd, banUserCmd} {
		addClientFlags(c, true)
		rootCmd.AddCommand(c)
	}
}

func printCertificate(w io.Writer, c *ledger.Certificate) {
	fmt.Fprintf(w, "Name:         %s\n", c.Name)
	fmt.Fprintf(w, "Kind:         %s (%s)\n", c.Kind, c.Source)
	if c.Serial != 0 {
		fmt.Fprintf(w, "Serial:       %d\n", c.Serial)
	}
	fmt.Fprintf(w, "State:        %s\n", c.State)
	if !c.NotAfter.IsZero() {
		fmt.Fprintf(w, "Expires:      %s\n", c.NotAfter.Format(time.DateOnly))
	}
	if c.RemoteID != "" {
		fmt.Fprintf(w, "Remote ID:    %s\n", c.RemoteID)
	}
}

// reportOperation prints the state of a revocation-affecting operation.
func reportOperation(w io.Writer, op *ledger.Operation, err error) error {
	if op != nil {
		fmt.Fprintf(w, "Operation:    %s (%s %s, serial %d)\n", op.ID, op.Kind, op.Name, op.Serial)
		for _, s := range op.Steps {
			fmt.Fprintf(w, "  [done]    %-20s %s\n", s.Step, s.Detail)
		}
		for _, s := range op.Pending() {
			fmt.Fprintf(w, "  [pending] %s\n", s)
		}
		if !op.Done {
			fmt.Fprintf(w, "Resume with: ironvpn ops resume %s\n", op.ID)
		}
	}
	return err
}
