package main

import (
	"net"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/settings"
	"github.com/spf13/cobra"
)

// healthcheckCmd checks a running instance over gRPC health; container
// HEALTHCHECK directives call it.
func healthcheckCmd() *cobra.Command {
	var addr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit non-zero unless the local gRPC health service reports SERVING",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := settings.Load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = net.JoinHostPort("127.0.0.1", st.GRPCPort)
			}
			return grpcx.CheckHealth(cmd.Context(), addr, st.ServiceName, timeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address (defaults to 127.0.0.1:GRPC_PORT)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "health check timeout")
	return cmd
}
