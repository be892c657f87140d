package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironvpn/pki"
	"github.com/jmcleod/ironvpn/revocation"
)

var (
	servePort int
	serveAddr string
)

var crlServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the CRL and CA certificate over HTTP",
	Long: `Run a CRL distribution point serving GET /crl.pem, GET /ca.crt and GET /health
from the data directory. The ledger is not opened, so other commands keep
working while the server runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files := pki.NewFileStore(cfg.DataDir)

		server := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", serveAddr, servePort),
			Handler:           newCRLRouter(files),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "Serving CRL on %s (data: %s)...\n", server.Addr, cfg.DataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	crlServeCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	crlServeCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to bind")
	crlCmd.AddCommand(crlServeCmd)
}

// newCRLRouter serves the files of the data directory. The CRL is verified
// against the CA certificate on every request so a corrupt file is never
// handed out.
func newCRLRouter(files *pki.FileStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Get("/ca.crt", func(w http.ResponseWriter, r *http.Request) {
		certPEM, err := files.ReadCACert()
		if err != nil {
			writeFileError(w, "ca.crt", err)
			return
		}
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Write(certPEM)
	})

	r.Get("/crl.pem", func(w http.ResponseWriter, r *http.Request) {
		certPEM, err := files.ReadCACert()
		if err != nil {
			writeFileError(w, "ca.crt", err)
			return
		}
		caCert, err := pki.ParseCertificatePEM(certPEM)
		if err != nil {
			slog.Error("serve: ca.crt unreadable", "error", err)
			http.Error(w, "CA certificate unreadable", http.StatusInternalServerError)
			return
		}
		crlPEM, err := files.ReadCRL()
		if err != nil {
			writeFileError(w, "crl.pem", err)
			return
		}
		doc, err := revocation.ParseDocument(crlPEM, caCert)
		if err != nil {
			slog.Error("serve: crl.pem does not verify", "error", err)
			http.Error(w, "CRL does not verify", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pkix-crl")
		w.Header().Set("ETag", `"`+doc.Digest()+`"`)
		w.Header().Set("Expires", doc.NextUpdate.UTC().Format(http.TimeFormat))
		w.Header().Set("Last-Modified", doc.ThisUpdate.UTC().Format(http.TimeFormat))
		w.Write(doc.PEM)
	})
	return r
}

func writeFileError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, pki.ErrFileNotFound) {
		http.Error(w, name+" not found", http.StatusNotFound)
		return
	}
	slog.Error("serve: reading file", "file", name, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
