package cmd

import (
	"context"
	"crypto/tls"
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
	"go.etcd.io/bbolt"

	"github.com/jmcleod/certrelay/api"
	"github.com/jmcleod/certrelay/coordinator"
	"github.com/jmcleod/certrelay/internal/util"
	"github.com/jmcleod/certrelay/ledger"
	"github.com/jmcleod/certrelay/storage"
	bboltstorage "github.com/jmcleod/certrelay/storage/bbolt"
	pgstorage "github.com/jmcleod/certrelay/storage/postgres"
)

var (
	port        int
	dataDir     string
	postgresDSN string
	tlsCert     string
	tlsKey      string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the certificate coordinator server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		// Single-owner precondition: exactly one coordinator may serve a
		// data directory at a time. The lock database is held exclusively
		// for the lifetime of the process; a second instance fails fast
		// here instead of serving with divided state.
		lock, err := bbolt.Open(dataDir+"/coordinator.lock", 0o600, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return fmt.Errorf("another coordinator instance owns %s: %w", dataDir, err)
		}
		defer lock.Close()

		var store storage.Store
		if postgresDSN != "" {
			pg, err := pgstorage.NewStoreFromDSN(cmd.Context(), postgresDSN)
			if err != nil {
				return fmt.Errorf("failed to open postgres storage: %w", err)
			}
			defer pg.Close()
			store = pg
		} else {
			bb, err := bboltstorage.NewStoreFromFile(dataDir+"/relations.db", nil)
			if err != nil {
				return fmt.Errorf("failed to open relation storage: %w", err)
			}
			defer bb.Close()
			store = bb
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		coord := coordinator.New(ledger.New(store), coordinator.WithLogger(logger))
		a := api.New(coord, api.WithLogger(logger))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (data: %s)...\n", port, dataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
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
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL DSN (uses embedded BBolt storage when empty)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
