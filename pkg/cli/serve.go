package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/service/mcp"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg       config
		transport string
		addr      string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Aliases:     []string{"t"},
			Usage:       "MCP transport (stdio, http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("RULESMITH_MCP_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address for the http transport",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("RULESMITH_MCP_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, commandFlags(&cfg, true)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve rule operations as MCP tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			uc, closeSlot, err := cfg.newRuleUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeSlot()

			server := mcp.NewServer(uc, c.Root().Version)

			switch transport {
			case "stdio":
				logging.From(ctx).Info("serving MCP over stdio")
				return server.RunStdio(ctx)
			case "http":
				return serveHTTP(ctx, addr, server.Handler())
			default:
				return goerr.New("unsupported transport",
					goerr.V("transport", transport),
					goerr.V("supported", []string{"stdio", "http"}))
			}
		},
	}
}

// serveHTTP runs until ctx is done and then shuts down gracefully
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("serving MCP over http", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "failed to serve http", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shutdown http server")
	}
	return nil
}
