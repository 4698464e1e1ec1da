package docs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const defaultMaxBytes = 5 << 20

type Document struct {
	Source string
	Text   string
}

type Bundle struct {
	Documents []Document
	Warnings  []string
}

func (b Bundle) Texts() []string {
	out := make([]string, 0, len(b.Documents))
	for _, d := range b.Documents {
		out = append(out, d.Text)
	}
	return out
}

func (b Bundle) Empty() bool {
	return len(b.Documents) == 0
}

type Loader struct {
	httpClient *http.Client
	maxBytes   int64
}

func NewLoader(timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Loader{httpClient: &http.Client{Timeout: timeout}, maxBytes: defaultMaxBytes}
}

// Load extracts raw text from every source. A source that cannot be read or
// yields no text becomes a warning; documentation is optional input.
func (l *Loader) Load(ctx context.Context, sources []string) (Bundle, error) {
	out := Bundle{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		text, err := l.loadOne(ctx, src)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("资料读取失败已跳过（%s）：%v", src, err))
			continue
		}
		if text == "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("资料内容为空已跳过：%s", src))
			continue
		}
		out.Documents = append(out.Documents, Document{Source: src, Text: text})
	}
	return out, nil
}

func (l *Loader) loadOne(ctx context.Context, src string) (string, error) {
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return l.fetch(ctx, src)
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(src)) {
	case ".html", ".htm":
		return ExtractHTML(raw, nil)
	default:
		return strings.TrimSpace(string(raw)), nil
	}
}

func (l *Loader) fetch(ctx context.Context, rawURL string) (string, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || pageURL.Host == "" {
		return "", fmt.Errorf("URL 无效：%s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建请求失败：%w", err)
	}
	req.Header.Set("User-Agent", "kw-listing")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求失败：%w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes))
	if err != nil {
		return "", fmt.Errorf("读取响应失败：%w", err)
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		return strings.TrimSpace(string(raw)), nil
	}
	return ExtractHTML(raw, pageURL)
}

// ExtractHTML returns the readable article text, falling back to the whole
// body text when readability finds no article.
func ExtractHTML(raw []byte, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err == nil {
		if text := collapseSpace(article.TextContent); text != "" {
			return text, nil
		}
	}
	return bodyText(raw)
}

func bodyText(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败：%w", err)
	}
	doc.Find("script, style, noscript, template").Remove()
	parts := []string{}
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	return collapseSpace(strings.Join(parts, "\n")), nil
}

func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
