package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"kw-listing/internal/brief"
	"kw-listing/internal/config"
	"kw-listing/internal/discovery"
	"kw-listing/internal/docs"
	"kw-listing/internal/keywords"
	"kw-listing/internal/logging"
	"kw-listing/internal/output"
	"kw-listing/internal/pipeline"
)

type Options struct {
	CommonOptions
	Inputs        []string
	Docs          []string
	Brief         string
	OutputDir     string
	SelectCount   int
	Product       string
	Category      string
	Feedback      []string
	NoInteractive bool
	Stdin         io.Reader
}

var errMissingProduct = errors.New("缺少产品名称：使用 --product 指定，或在 --brief 中填写 产品名:")

type Result struct {
	SessionID  string
	OutputFile string
	Rounds     int
	Warnings   int
	Balance    string
}

// Run executes the gen command: one listing session from keyword files to an
// exported listing_<id>.txt.
func Run(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Product) == "" && strings.TrimSpace(opts.Brief) == "" {
		return Result{}, errMissingProduct
	}
	rt, err := setup(opts.CommonOptions, func(cfg *config.Config) { overrideConfig(cfg, opts) })
	if err != nil {
		return Result{}, err
	}
	defer rt.Close()
	logger := rt.logger
	result := Result{}

	var pb brief.Brief
	if strings.TrimSpace(opts.Brief) != "" {
		pb, err = brief.ParseFile(absPath(rt.cwd, opts.Brief))
		if err != nil {
			return result, err
		}
		if pb.Brand != "" {
			rt.cfg.Pipeline.BrandTokens = append(rt.cfg.Pipeline.BrandTokens, pb.Brand)
		}
		logger.Emit(logging.Event{Event: "brief_loaded", Stage: "load", Input: pb.SourcePath, Count: len(pb.Keywords), Message: fmt.Sprintf("已读取产品简介，含 %d 个种子关键词", len(pb.Keywords))})
	}
	product := firstNonEmpty(strings.TrimSpace(opts.Product), pb.Product)
	if product == "" {
		return result, errMissingProduct
	}

	inputs := make([]string, 0, len(opts.Inputs))
	for _, in := range opts.Inputs {
		inputs = append(inputs, absPath(rt.cwd, in))
	}
	docInputs := make([]string, 0, len(opts.Docs))
	for _, d := range opts.Docs {
		if discovery.IsURL(d) {
			docInputs = append(docInputs, d)
			continue
		}
		docInputs = append(docInputs, absPath(rt.cwd, d))
	}
	found, err := discovery.Discover(inputs, docInputs)
	if err != nil {
		return result, err
	}
	for _, w := range found.Warnings {
		result.Warnings++
		logger.Emit(logging.Event{Level: "warn", Event: "scan_warning", Stage: "load", Message: w})
	}

	rows, report := keywords.LoadCSVFiles(found.KeywordFiles)
	rows = append(rows, pb.Rows()...)
	for _, msg := range report.Messages {
		logger.Emit(logging.Event{Event: "keywords_loaded", Stage: "load", Message: msg})
	}
	if len(report.Rejected) > 0 {
		result.Warnings += len(report.Rejected)
		logger.Emit(logging.Event{Level: "warn", Event: "keywords_rejected", Stage: "load", Count: len(report.Rejected), Message: "部分关键词文件未被读取", Error: strings.Join(report.Rejected, ", ")})
	}

	bundle, err := docs.NewLoader(time.Duration(rt.cfg.RequestTimeoutSec)*time.Second).Load(ctx, found.DocSources)
	if err != nil {
		return result, err
	}
	for _, w := range bundle.Warnings {
		result.Warnings++
		logger.Emit(logging.Event{Level: "warn", Event: "doc_warning", Stage: "load", Message: w})
	}
	if !bundle.Empty() {
		logger.Emit(logging.Event{Event: "docs_loaded", Stage: "load", Count: len(bundle.Documents), Message: fmt.Sprintf("已读取 %d 份产品资料", len(bundle.Documents))})
	}

	documentation := bundle.Texts()
	if pb.Notes != "" {
		documentation = append(documentation, pb.Notes)
	}
	sess, err := pipeline.NewSession(rt.service, rt.sessionOptions(""), pipeline.Input{
		ProductName:   product,
		Category:      firstNonEmpty(strings.TrimSpace(opts.Category), pb.Category),
		KeywordRows:   rows,
		Documentation: documentation,
	})
	if err != nil {
		return result, err
	}
	result.SessionID = sess.ID()

	res, err := sess.Run(ctx)
	if err != nil {
		if sess.State() != pipeline.StateAwaitingFeedback {
			return result, err
		}
		// The draft exists; the verifier could not finish.
		result.Warnings++
		logger.Emit(logging.Event{Level: "error", Event: "run_incomplete", Session: sess.ID(), Stage: "verify", Message: "事实校验未完成，保留当前草稿", Error: err.Error()})
	}
	if res.Unclassified {
		result.Warnings++
	}

	for _, fb := range opts.Feedback {
		if applyFeedback(ctx, sess, fb, logger) {
			result.Rounds++
		}
	}
	if !opts.NoInteractive && opts.Stdin != nil {
		result.Rounds += interactiveFeedback(ctx, sess, opts.Stdin, opts.Stdout, logger)
	}
	if err := sess.Complete(); err != nil {
		return result, err
	}

	outDir := absPath(rt.cwd, rt.cfg.Output.Dir)
	if err := output.EnsureDir(outDir); err != nil {
		return result, fmt.Errorf("创建输出目录失败：%w", err)
	}
	_, path, err := output.NextListing(outDir, 8, nil)
	if err != nil {
		return result, fmt.Errorf("生成输出文件名失败：%w", err)
	}
	if err := output.WriteListing(path, sess.Export()); err != nil {
		return result, fmt.Errorf("写入结果失败：%w", err)
	}
	result.OutputFile = path
	logger.Emit(logging.Event{Event: "write_ok", Session: sess.ID(), Stage: "export", OutputFile: path, Message: "已写入 " + path})
	if balance, err := rt.providerBalance(ctx); err != nil {
		logger.Emit(logging.Event{Level: "warn", Event: "balance_failed", Message: "余额查询失败", Error: err.Error()})
	} else {
		result.Balance = balance
	}
	logger.Emit(logging.Event{Event: "finished", Session: sess.ID(), Count: result.Rounds, Message: fmt.Sprintf("完成，共 %d 轮反馈", result.Rounds)})
	return result, nil
}

// applyFeedback reports whether the round was accepted. A failed round leaves
// the draft as it was.
func applyFeedback(ctx context.Context, sess *pipeline.Session, raw string, logger *logging.Logger) bool {
	if _, err := sess.Feedback(ctx, raw); err != nil {
		logger.Emit(logging.Event{Level: "warn", Event: "feedback_rejected", Session: sess.ID(), Stage: "feedback", Message: "反馈未生效", Error: err.Error()})
		return false
	}
	return true
}

// interactiveFeedback reads one feedback per line until an empty line, "done"
// or EOF.
func interactiveFeedback(ctx context.Context, sess *pipeline.Session, in io.Reader, out io.Writer, logger *logging.Logger) int {
	if out == nil {
		out = io.Discard
	}
	rounds := 0
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintln(out, "\n"+sess.Export())
		fmt.Fprint(out, "输入修改意见（直接回车或输入 done 完成）：")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return rounds
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.EqualFold(line, "done") {
			return rounds
		}
		if applyFeedback(ctx, sess, line, logger) {
			rounds++
		}
		if ctx.Err() != nil {
			return rounds
		}
	}
}

func overrideConfig(cfg *config.Config, opts Options) {
	if strings.TrimSpace(opts.OutputDir) != "" {
		cfg.Output.Dir = opts.OutputDir
	}
	if opts.SelectCount > 0 {
		cfg.Pipeline.SelectCount = opts.SelectCount
	}
}
