package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kw-listing/internal/app"
)

func newServeCmd(stdout *os.File, flags *commonFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "启动 HTTP 服务，按会话生成并修改 listing",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			common, err := flags.options(stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return app.Serve(ctx, app.ServeOptions{CommonOptions: common, Addr: addr})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址，默认取配置 server.addr（:8080）")
	return cmd
}
