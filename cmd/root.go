package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kw-listing/internal/app"
)

type commonFlags struct {
	configArg   string
	providerArg string
	logFileArg  string
	verboseArg  bool
}

type genFlags struct {
	commonFlags
	outputDirArg     string
	selectCountArg   int
	productArg       string
	categoryArg      string
	docsArg          []string
	briefArg         string
	feedbackArg      []string
	noInteractiveArg bool
}

func Execute() error {
	root := NewRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(normalizeArgs(os.Args[1:]))
	return root.Execute()
}

func NewRootCmd(stdout, stderr *os.File) *cobra.Command {
	flags := &genFlags{}
	showVersion := false

	root := &cobra.Command{
		Use:           "kw-listing [keywords.csv|dir ...]",
		Short:         "根据关键词 CSV 生成 Amazon listing，并支持多轮反馈修改",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runGen(stdout, flags, &showVersion),
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.CompletionOptions.HiddenDefaultCmd = true
	bindCommonFlags(root, &flags.commonFlags)
	bindGenFlags(root, flags)
	root.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "显示版本信息")

	genCmd := &cobra.Command{
		Use:           "gen [keywords.csv|dir ...]",
		Short:         "生成 listing 文件",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runGen(stdout, flags, &showVersion),
	}
	root.AddCommand(genCmd)
	root.AddCommand(newServeCmd(stdout, &flags.commonFlags))
	root.AddCommand(newSetCmd(&flags.commonFlags))

	versionCmd := &cobra.Command{
		Use:           "version",
		Short:         "显示版本信息",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(stdout)
		},
	}
	root.AddCommand(versionCmd)
	return root
}

func bindCommonFlags(cmd *cobra.Command, flags *commonFlags) {
	cmd.PersistentFlags().StringVar(&flags.configArg, "config", "", "配置文件路径，默认 ~/.kw-listing/config.yaml")
	cmd.PersistentFlags().StringVar(&flags.providerArg, "provider", "", "覆盖配置中的 provider（openai / deepseek / claude）")
	cmd.PersistentFlags().StringVar(&flags.logFileArg, "log-file", "", "NDJSON 日志文件路径")
	cmd.PersistentFlags().BoolVar(&flags.verboseArg, "verbose", false, "输出详细 NDJSON（机器友好）")
}

func bindGenFlags(cmd *cobra.Command, flags *genFlags) {
	cmd.PersistentFlags().StringVarP(&flags.outputDirArg, "out", "o", "", "输出目录，默认当前目录")
	cmd.PersistentFlags().IntVar(&flags.selectCountArg, "select-count", 0, "筛选保留的关键词数量，默认 50")
	cmd.PersistentFlags().StringVarP(&flags.productArg, "product", "p", "", "产品名称（必填）")
	cmd.PersistentFlags().StringVarP(&flags.categoryArg, "category", "c", "", "产品类目")
	cmd.PersistentFlags().StringArrayVarP(&flags.docsArg, "docs", "d", nil, "产品资料文件、目录或 URL，可重复")
	cmd.PersistentFlags().StringVarP(&flags.briefArg, "brief", "b", "", "产品简介文件（===Product Brief=== 格式），可提供产品名、品牌、种子关键词")
	cmd.PersistentFlags().StringArrayVar(&flags.feedbackArg, "feedback", nil, "预置的修改意见，按顺序逐轮应用，可重复")
	cmd.PersistentFlags().BoolVar(&flags.noInteractiveArg, "no-interactive", false, "不从标准输入读取修改意见")
}

func (f commonFlags) options(stdout *os.File) (app.CommonOptions, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return app.CommonOptions{}, fmt.Errorf("读取当前目录失败：%w", err)
	}
	return app.CommonOptions{
		ConfigPath: f.configArg,
		Provider:   f.providerArg,
		LogFile:    f.logFileArg,
		Verbose:    f.verboseArg,
		CWD:        cwd,
		Stdout:     stdout,
	}, nil
}

func runGen(stdout *os.File, flags *genFlags, showVersion *bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if showVersion != nil && *showVersion {
			printVersion(stdout)
			return nil
		}

		if len(args) == 0 {
			_ = cmd.Help()
			return nil
		}

		common, err := flags.options(stdout)
		if err != nil {
			return err
		}
		opts := app.Options{
			CommonOptions: common,
			Inputs:        args,
			Docs:          flags.docsArg,
			Brief:         flags.briefArg,
			OutputDir:     flags.outputDirArg,
			SelectCount:   flags.selectCountArg,
			Product:       flags.productArg,
			Category:      flags.categoryArg,
			Feedback:      flags.feedbackArg,
			NoInteractive: flags.noInteractiveArg,
		}
		if !flags.noInteractiveArg {
			opts.Stdin = os.Stdin
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		start := time.Now()
		res, err := app.Run(ctx, opts)
		if err != nil {
			return err
		}
		if !flags.verboseArg {
			fmt.Fprintln(stdout, summaryLine(res, time.Since(start).Milliseconds()))
		}
		return nil
	}
}

func summaryLine(res app.Result, elapsedMS int64) string {
	line := fmt.Sprintf("任务完成：反馈 %d 轮，输出 %s，总耗时 %s", res.Rounds, res.OutputFile, formatDurationMS(elapsedMS))
	if res.Warnings > 0 {
		line += fmt.Sprintf("，警告 %d 条", res.Warnings)
	}
	if b := strings.TrimSpace(res.Balance); b != "" {
		line += "，余额：" + b
	}
	return line
}

func formatDurationMS(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60_000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000.0)
	}
	minutes := ms / 60_000
	remainMS := ms % 60_000
	if remainMS == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm%.1fs", minutes, float64(remainMS)/1000.0)
}

// normalizeArgs makes "kw-listing a.csv" mean "kw-listing gen a.csv".
func normalizeArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	first := args[0]
	switch first {
	case "gen", "serve", "set", "help", "completion", "version":
		return args
	}
	if first == "-h" || first == "--help" || first == "-v" || first == "--version" {
		return args
	}
	if !containsPositionalSource(args) {
		return args
	}
	return append([]string{"gen"}, args...)
}

var valueFlags = []string{
	"--config", "--out", "-o", "--select-count", "--provider", "--log-file",
	"--product", "-p", "--category", "-c", "--docs", "-d", "--brief", "-b", "--feedback",
}

func containsPositionalSource(args []string) bool {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return i+1 < len(args)
		}
		if isValueFlag(arg) {
			i++
			continue
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return true
	}
	return false
}

func isValueFlag(arg string) bool {
	for _, f := range valueFlags {
		if arg == f {
			return true
		}
	}
	return false
}
