package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	escrowhttp "github.com/tripartite/escrow/http"
	escrowmcp "github.com/tripartite/escrow/mcp"
)

const shutdownTimeout = 10 * time.Second

var servePort string

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Listen port, overrides PORT")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the escrow REST API",
	Long:  "Serves the agreement REST API under /api and Prometheus metrics on /metrics. The arbiter identity deploys, completes and cancels; the payer identity deposits.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		if rt.env.LogLevel < logrus.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		port := rt.env.Port
		if servePort != "" {
			port = servePort
		}

		arbiter, payer, err := rt.parties()
		if err != nil {
			return err
		}
		server := escrowhttp.NewServer(rt.orch, escrowhttp.Identities{
			Arbiter: arbiter,
			Payer:   payer,
		}, escrowhttp.WithMetrics(rt.metrics), escrowhttp.WithLogger(rt.log))
		httpServer := &http.Server{
			Addr:              ":" + port,
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			rt.log.WithField("addr", httpServer.Addr).Info("escrow API listening")
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		rt.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the escrow tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// stdout carries the protocol, so logs go to stderr
		rt, err := newRuntime(ctx, devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		arbiter, payer, err := rt.parties()
		if err != nil {
			return err
		}
		server := escrowmcp.NewServer(rt.orch, escrowmcp.Identities{
			Arbiter: arbiter,
			Payer:   payer,
		}, escrowmcp.WithLogger(rt.log))
		rt.log.Info("escrow MCP server on stdio")
		return escrowmcp.Serve(ctx, server, &mcpsdk.StdioTransport{})
	},
}
