package brief

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"kw-listing/internal/keywords"
)

const Marker = "===Product Brief==="

// Brief is a hand-written product description file:
//
//	===Product Brief===
//	产品名: Orthopedic Dog Bed
//	品牌名: Acme
//	分类: Pet Supplies
//	# 关键词库
//	1. dog bed
//	2. memory foam dog bed
//	# 产品资料
//	free text...
type Brief struct {
	SourcePath string
	Product    string
	Brand      string
	Category   string
	Keywords   []string
	Notes      string
}

func ParseFile(path string) (Brief, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Brief{}, fmt.Errorf("读取产品简介失败（%s）：%w", path, err)
	}
	b, err := Parse(string(raw))
	if err != nil {
		return Brief{}, fmt.Errorf("%w：%s", err, path)
	}
	b.SourcePath = path
	return b, nil
}

func Parse(raw string) (Brief, error) {
	body, ok := BodyAfterMarker(raw)
	if !ok {
		return Brief{}, fmt.Errorf("文件不是产品简介格式（缺少首行标志 %s）", Marker)
	}
	return Brief{
		Product:  field(body, "产品名:"),
		Brand:    field(body, "品牌名:"),
		Category: parseCategory(body),
		Keywords: parseKeywords(body),
		Notes:    section(body, "# 产品资料"),
	}, nil
}

// Rows turns the seed keywords into keyword rows without metrics; the
// normalizer imputes their volume and competitor counts.
func (b Brief) Rows() []keywords.RawRow {
	out := make([]keywords.RawRow, 0, len(b.Keywords))
	for _, kw := range b.Keywords {
		out = append(out, keywords.RawRow{Keyword: kw, Source: b.SourcePath})
	}
	return out
}

func BodyAfterMarker(raw string) (string, bool) {
	raw = strings.TrimPrefix(raw, "\ufeff")
	lines := strings.Split(raw, "\n")
	idx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == Marker {
			idx = i
		}
		break
	}
	if idx < 0 {
		return "", false
	}
	if idx+1 >= len(lines) {
		return "", true
	}
	return strings.Join(lines[idx+1:], "\n"), true
}

func field(body, prefix string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func parseCategory(body string) string {
	if c := field(body, "分类:"); c != "" {
		return c
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "# 分类") {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" {
				continue
			}
			if strings.HasPrefix(next, "#") {
				return ""
			}
			return next
		}
	}
	return ""
}

// sectionLines returns the non-blank lines under heading, up to the next heading.
func sectionLines(body, heading string) []string {
	lines := strings.Split(body, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), heading) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}
	var out []string
	for i := start; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "#") {
			break
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func section(body, heading string) string {
	return strings.Join(sectionLines(body, heading), "\n")
}

var keywordPrefixRe = regexp.MustCompile(`^([0-9]{1,3}[\.)]|[-*•])\s*`)

func parseKeywords(body string) []string {
	var out []string
	for _, line := range sectionLines(body, "# 关键词库") {
		if kw := strings.TrimSpace(keywordPrefixRe.ReplaceAllString(line, "")); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
