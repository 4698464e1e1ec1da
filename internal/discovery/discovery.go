package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Result struct {
	KeywordFiles []string
	DocSources   []string
	Warnings     []string
}

var docExts = map[string]struct{}{
	".txt":  {},
	".md":   {},
	".html": {},
	".htm":  {},
}

func IsURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Discover expands keyword inputs (CSV files or directories) and documentation
// inputs (files, directories or URLs). At least one keyword file is required.
func Discover(inputs []string, docInputs []string) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, fmt.Errorf("未提供输入路径")
	}
	kwSet := map[string]struct{}{}
	docSet := map[string]struct{}{}
	warnings := []string{}

	for _, in := range inputs {
		if strings.TrimSpace(in) == "" {
			continue
		}
		st, err := os.Stat(in)
		if err != nil {
			return Result{}, fmt.Errorf("输入路径无效（%s）：%w", in, err)
		}
		if st.IsDir() {
			kws, docs, warns, err := scanDir(in)
			if err != nil {
				return Result{}, err
			}
			warnings = append(warnings, warns...)
			addAll(kwSet, kws)
			addAll(docSet, docs)
			continue
		}
		switch ext := strings.ToLower(filepath.Ext(in)); {
		case ext == ".csv":
			kwSet[in] = struct{}{}
		case isDocExt(ext):
			docSet[in] = struct{}{}
		default:
			return Result{}, fmt.Errorf("不支持的输入文件类型（需要 .csv 关键词表）：%s", in)
		}
	}

	for _, in := range docInputs {
		in = strings.TrimSpace(in)
		if in == "" {
			continue
		}
		if IsURL(in) {
			docSet[in] = struct{}{}
			continue
		}
		st, err := os.Stat(in)
		if err != nil {
			return Result{}, fmt.Errorf("资料路径无效（%s）：%w", in, err)
		}
		if st.IsDir() {
			_, docs, warns, err := scanDir(in)
			if err != nil {
				return Result{}, err
			}
			warnings = append(warnings, warns...)
			addAll(docSet, docs)
			continue
		}
		if !isDocExt(strings.ToLower(filepath.Ext(in))) {
			warnings = append(warnings, fmt.Sprintf("不支持的资料类型已跳过：%s", in))
			continue
		}
		docSet[in] = struct{}{}
	}

	out := Result{KeywordFiles: sortedKeys(kwSet), DocSources: sortedKeys(docSet), Warnings: warnings}
	if len(out.KeywordFiles) == 0 {
		return Result{}, fmt.Errorf("未找到任何关键词 CSV 文件")
	}
	return out, nil
}

func scanDir(root string) ([]string, []string, []string, error) {
	kws := []string{}
	docs := []string{}
	warnings := []string{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".csv" && !isDocExt(ext) {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			warnings = append(warnings, fmt.Sprintf("读取失败已跳过：%s", path))
			return nil
		}
		f.Close()
		if ext == ".csv" {
			kws = append(kws, path)
		} else {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("扫描目录失败（%s）：%w", root, err)
	}
	return kws, docs, warnings, nil
}

func isDocExt(ext string) bool {
	_, ok := docExts[ext]
	return ok
}

func addAll(set map[string]struct{}, items []string) {
	for _, p := range items {
		set[p] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
