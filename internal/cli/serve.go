package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/libbyhq/libby/pkg/observability"
	"github.com/libbyhq/libby/pkg/server"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr       string
		allowLocal bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP resolution daemon",
		Long: `Serve resolution requests over HTTP.

  POST /v1/resolve   body: a library manifest in JSON
  GET  /v1/cache     cached artifacts
  GET  /healthz      liveness
  GET  /metrics      Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.newManager()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			observability.Register(observability.NewPrometheus(reg))

			srv, err := server.New(server.Options{Manager: m, Gatherer: reg, AllowLocal: allowLocal, Logger: c.Logger})
			if err != nil {
				return err
			}
			printInfo("Listening on %s", StyleHighlight.Render(addr))
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8780", "listen address")
	cmd.Flags().BoolVar(&allowLocal, "allow-local", false, "accept file:// and filesystem repositories in requests")
	return cmd
}
