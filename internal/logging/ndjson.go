package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger struct {
	mu      sync.Mutex
	console io.Writer
	file    io.Writer
	verbose bool
}

type Event struct {
	TS         string `json:"ts"`
	Level      string `json:"level"`
	Event      string `json:"event"`
	Session    string `json:"session,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Field      string `json:"field,omitempty"`
	State      string `json:"state,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Count      int    `json:"count,omitempty"`
	WaitMS     int64  `json:"wait_ms,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty"`
	Input      string `json:"input,omitempty"`
	OutputFile string `json:"output_file,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// New builds a logger writing human status lines (or NDJSON when verbose) to
// stdout, and NDJSON to logFile when one is given.
func New(stdout io.Writer, logFile string, verbose bool) (*Logger, io.Closer, error) {
	l := &Logger{console: stdout, verbose: verbose}
	if logFile == "" {
		return l, nil, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	l.file = f
	return l, f, nil
}

func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

func (l *Logger) Emit(ev Event) {
	if l == nil {
		return
	}
	if ev.TS == "" {
		ev.TS = time.Now().Format(time.RFC3339Nano)
	}
	if ev.Level == "" {
		ev.Level = "info"
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_, _ = l.file.Write(append(b, '\n'))
	}
	if l.console == nil {
		return
	}
	if l.verbose {
		_, _ = l.console.Write(append(b, '\n'))
		return
	}
	if line := formatHuman(ev); line != "" {
		_, _ = io.WriteString(l.console, line+"\n")
	}
}

func formatHuman(ev Event) string {
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		return ""
	}
	prefix := ""
	if label := humanStageLabel(ev.Stage); label != "" {
		prefix = "[" + label + "] "
	}
	switch ev.Level {
	case "warn":
		prefix += "警告："
	case "error":
		prefix += "错误："
	}
	line := prefix + msg
	if ev.LatencyMS > 0 {
		line += "（耗时 " + formatHumanDurationMS(ev.LatencyMS) + "）"
	}
	if ev.Error != "" && ev.Level != "info" {
		line += "：" + ev.Error
	}
	return line
}

func humanStageLabel(stage string) string {
	switch stage {
	case "":
		return ""
	case "load":
		return "数据读取"
	case "summarize":
		return "产品资料摘要"
	case "normalize":
		return "关键词清洗"
	case "filter":
		return "关键词语义过滤"
	case "score":
		return "价值评分"
	case "classify":
		return "相关性分类"
	case "select":
		return "关键词筛选"
	case "distribute":
		return "关键词分配"
	case "title":
		return "标题生成"
	case "bullets":
		return "五点描述生成"
	case "description":
		return "产品描述生成"
	case "verify":
		return "事实校验"
	case "feedback":
		return "反馈处理"
	case "export":
		return "导出"
	default:
		return stage
	}
}

func formatHumanDurationMS(ms int64) string {
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
	rest := ms % 60_000
	if rest == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm%.1fs", minutes, float64(rest)/1000.0)
}
