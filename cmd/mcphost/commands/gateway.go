package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcphost-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcphost-go/pkg/mcpmgr"
)

func newGatewayCommand(opts *globalOptions) *cobra.Command {
	var (
		addr string
		path string
	)
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve every configured server through one Streamable HTTP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withManager(cmd, opts, func(m *mcpmgr.Manager) error {
				gateway, err := mcpgateway.NewGateway(m, &mcpgateway.Options{
					Addr:   addr,
					Path:   path,
					Logger: slog.Default(),
				})
				if err != nil {
					return err
				}
				if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8700", "listen address")
	cmd.Flags().StringVar(&path, "path", "/mcp", "HTTP path of the MCP endpoint")
	return cmd
}
