package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/spf13/cobra"

	"github.com/mlindgren/vitrine/api"
	"github.com/mlindgren/vitrine/counter"
	bboltstorage "github.com/mlindgren/vitrine/storage/bbolt"
	"github.com/mlindgren/vitrine/upload"
)

var (
	port      int
	dataDir   string
	publicDir string

	oidcIssuer      string
	oidcClientID    string
	oidcRedirectURL string

	rpID     string
	rpOrigin string

	trustedProxies []string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the editor backend server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "catalog.db"), nil)
		if err != nil {
			return fmt.Errorf("opening catalog storage: %w", err)
		}
		defer repo.Close()

		counters, err := counter.Open(filepath.Join(dataDir, "downloads.json"))
		if err != nil {
			return fmt.Errorf("opening download counters: %w", err)
		}

		stager, err := upload.NewStager(upload.Config{
			TempDir:     filepath.Join(dataDir, "staging"),
			ImageDir:    filepath.Join(publicDir, "images"),
			DownloadDir: filepath.Join(publicDir, "downloads"),
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("initializing upload staging: %w", err)
		}
		defer stager.Close()

		opts := []api.Option{api.WithLogger(logger)}

		if oidcIssuer != "" {
			idp, err := api.NewOIDCProvider(cmd.Context(), api.OIDCConfig{
				IssuerURL:    oidcIssuer,
				ClientID:     oidcClientID,
				ClientSecret: os.Getenv("VITRINE_OIDC_CLIENT_SECRET"),
				RedirectURL:  oidcRedirectURL,
			})
			if err != nil {
				return fmt.Errorf("configuring identity provider: %w", err)
			}
			opts = append(opts, api.WithIdentityProvider(idp))
		} else {
			logger.Warn("no OIDC issuer configured; login endpoints disabled")
		}

		if rpID != "" {
			wa, err := webauthn.New(&webauthn.Config{
				RPDisplayName: "Vitrine Editor",
				RPID:          rpID,
				RPOrigins:     []string{rpOrigin},
			})
			if err != nil {
				return fmt.Errorf("configuring webauthn relying party: %w", err)
			}
			opts = append(opts, api.WithWebAuthn(wa))
		}

		if len(trustedProxies) > 0 {
			prefixes := make([]netip.Prefix, 0, len(trustedProxies))
			for _, cidr := range trustedProxies {
				prefix, err := netip.ParsePrefix(cidr)
				if err != nil {
					return fmt.Errorf("parsing trusted proxy %q: %w", cidr, err)
				}
				prefixes = append(prefixes, prefix)
			}
			opts = append(opts, api.WithTrustedProxies(prefixes))
		}

		opts = append(opts, api.WithAlertFunc(func(ev api.AlertEvent) {
			logger.Warn("security alert",
				"type", string(ev.Type),
				"message", ev.Message,
				"count", ev.Count,
				"threshold", ev.Threshold,
			)
		}))

		a := api.New(repo, stager, counters, opts...)
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		// Committed assets are served straight off the public directory.
		fileServer := http.FileServer(http.Dir(publicDir))
		r.Handle("/images/*", fileServer)
		r.Handle("/downloads/*", fileServer)

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
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

		logger.Info("server started", "port", port, "data_dir", dataDir, "public_dir", publicDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
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
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&publicDir, "public-dir", "./public", "Directory served as the public site root")
	serverCmd.Flags().StringVar(&oidcIssuer, "oidc-issuer", "", "OIDC issuer URL")
	serverCmd.Flags().StringVar(&oidcClientID, "oidc-client-id", "", "OIDC client id")
	serverCmd.Flags().StringVar(&oidcRedirectURL, "oidc-redirect-url", "", "OIDC redirect URL for the login callback")
	serverCmd.Flags().StringVar(&rpID, "rp-id", "", "WebAuthn relying party id")
	serverCmd.Flags().StringVar(&rpOrigin, "rp-origin", "", "WebAuthn relying party origin")
	serverCmd.Flags().StringSliceVar(&trustedProxies, "trusted-proxy", nil, "CIDR of a reverse proxy whose forwarding headers are honored (repeatable)")
}
