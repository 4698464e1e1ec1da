package keywords

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type columnLayout struct {
	keyword    string
	volume     string
	competitor string
}

var knownLayouts = []columnLayout{
	{keyword: "keywords", volume: "search volume", competitor: "competing products"},
	{keyword: "phrase", volume: "search volume", competitor: "keyword sales"},
}

type LoadReport struct {
	Accepted []string
	Rejected []string
	Messages []string
}

func (r *LoadReport) addf(format string, args ...any) {
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// LoadCSVFiles reads every keyword file and unifies the recognized layouts
// into one row list. Unreadable or unrecognized files are reported, not fatal.
func LoadCSVFiles(paths []string) ([]RawRow, LoadReport) {
	report := LoadReport{}
	var rows []RawRow
	for _, p := range paths {
		name := filepath.Base(p)
		f, err := os.Open(p)
		if err != nil {
			report.Rejected = append(report.Rejected, p)
			report.addf("%s：读取失败：%v", name, err)
			continue
		}
		got, err := ReadCSV(f, p)
		f.Close()
		if err != nil {
			report.Rejected = append(report.Rejected, p)
			report.addf("%s：%v", name, err)
			continue
		}
		rows = append(rows, got...)
		report.Accepted = append(report.Accepted, p)
		report.addf("%s：处理完成，共 %d 行", name, len(got))
	}
	return rows, report
}

var errLayoutMismatch = errors.New("列格式不匹配（需要 Keywords/Search Volume/Competing Products 或 Phrase/Search Volume/Keyword Sales）")

func ReadCSV(r io.Reader, source string) ([]RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errLayoutMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("读取失败：%w", err)
	}
	kwIdx, volIdx, compIdx, ok := matchLayout(header)
	if !ok {
		return nil, errLayoutMismatch
	}
	var out []RawRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取失败：%w", err)
		}
		out = append(out, RawRow{
			Keyword:           cell(rec, kwIdx),
			SearchVolume:      cell(rec, volIdx),
			CompetingProducts: strings.ReplaceAll(cell(rec, compIdx), ">", ""),
			Source:            source,
		})
	}
	return out, nil
}

func matchLayout(header []string) (int, int, int, bool) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		key := strings.ToLower(strings.Join(strings.Fields(h), " "))
		if _, exists := pos[key]; !exists {
			pos[key] = i
		}
	}
	for _, l := range knownLayouts {
		k, okK := pos[l.keyword]
		v, okV := pos[l.volume]
		c, okC := pos[l.competitor]
		if okK && okV && okC {
			return k, v, c, true
		}
	}
	return 0, 0, 0, false
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}
