package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/sprintview/sprintview/pkg/cli/config"
	controller "github.com/sprintview/sprintview/pkg/controller/http"
	"github.com/sprintview/sprintview/pkg/usecase"
)

func cmdServe() *cli.Command {
	var (
		serverCfg config.Server
		gitlabCfg config.GitLab
		cryptoCfg config.Crypto
	)

	flags := joinFlags(
		serverCfg.Flags(),
		gitlabCfg.Flags(),
		cryptoCfg.Flags(),
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start HTTP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			logger.Info("Starting sprintview server",
				slog.String("addr", serverCfg.Addr),
				slog.Any("gitlab", gitlabCfg),
				slog.Any("crypto", cryptoCfg),
			)

			client, err := gitlabCfg.Configure()
			if err != nil {
				return err
			}

			sealer, err := cryptoCfg.Configure()
			if err != nil {
				return err
			}

			authUC := usecase.NewAuth(client, sealer)
			analyticsUC := usecase.NewAnalytics(client)

			server := controller.NewServer(serverCfg.Addr, authUC, analyticsUC, client)

			go func() {
				logger.Info("HTTP server starting", slog.String("addr", serverCfg.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", slog.Any("error", err))
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}
