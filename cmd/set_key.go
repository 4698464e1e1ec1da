package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kw-listing/internal/config"
)

func newSetCmd(flags *commonFlags) *cobra.Command {
	setCmd := &cobra.Command{
		Use:           "set",
		Short:         "修改本地设置",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	setCmd.AddCommand(&cobra.Command{
		Use:           "key <api_key>",
		Short:         "写入当前 provider 的 API Key 到 ~/.kw-listing/.env",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return setKey(flags, args[0])
		},
	})
	return setCmd
}

func setKey(flags *commonFlags, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("API Key 不能为空")
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, paths, err := config.Load(flags.configArg, cwd)
	if err != nil {
		return err
	}
	if p := strings.ToLower(strings.TrimSpace(flags.providerArg)); p != "" {
		cfg.Provider = p
	}
	return config.UpsertEnvVar(paths.EnvPath, cfg.KeyName(), value)
}
