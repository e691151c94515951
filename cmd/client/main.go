// Command client runs the local monkey-troop broker: an OpenAI-compatible
// endpoint that authorizes each request against the coordinator and forwards
// it to the assigned worker. Mirrors the original implementation's clap-based
// CLI (client/src/main.rs) using cobra as the Go counterpart of clap's
// subcommand shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/100monkeys-ai/monkey-troop/internal/client"
	"github.com/100monkeys-ai/monkey-troop/internal/client/proxy"
	"github.com/100monkeys-ai/monkey-troop/internal/logging"
	"github.com/100monkeys-ai/monkey-troop/internal/middleware"
	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

func main() {
	root := &cobra.Command{
		Use:   "client",
		Short: "monkey-troop client broker",
	}

	root.AddCommand(upCommand())
	root.AddCommand(nodesCommand())
	root.AddCommand(balanceCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "start the local broker proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewFromEnv("client")
			cfg := client.FromEnv()
			metrics := middleware.NewMetrics("client")

			server := proxy.NewServer(cfg.CoordinatorURL, cfg.RequesterID, log, metrics)

			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.ProxyPort),
				Handler:           server.Handler(),
				ReadTimeout:       30 * time.Second,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      330 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("starting client proxy")
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info("shutdown signal received")
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}

func nodesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "list the coordinator's known nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := client.FromEnv()

			httpClient := &http.Client{Timeout: shared.AuthTimeout}
			resp, err := httpClient.Get(cfg.CoordinatorURL + "/peers")
			if err != nil {
				return fmt.Errorf("fetch peers: %w", err)
			}
			defer resp.Body.Close()

			var peers shared.PeersResponse
			if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
				return fmt.Errorf("decode peers response: %w", err)
			}

			encoded, err := json.MarshalIndent(peers, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
}

func balanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "show account balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("not yet implemented")
			return nil
		},
	}
}
