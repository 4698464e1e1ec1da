package keywords

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	allowedKeywordRe = regexp.MustCompile(`^[A-Za-z0-9 &'().-]+$`)
	nonNumericRe     = regexp.MustCompile(`[^\d.]`)
)

const volumeImputeQuantile = 0.1

func ValidKeyword(s string) bool {
	return allowedKeywordRe.MatchString(s)
}

// Normalize drops keywords outside the allowed character set, removes
// duplicates (first occurrence wins), coerces the numeric columns and
// imputes the ones that fail to parse.
func Normalize(rows []RawRow) []Record {
	return Coerce(Clean(rows))
}

// Clean keeps the first occurrence of every syntactically valid keyword.
func Clean(rows []RawRow) []RawRow {
	seen := make(map[string]struct{}, len(rows))
	out := make([]RawRow, 0, len(rows))
	for _, row := range rows {
		row.Keyword = strings.TrimSpace(row.Keyword)
		if row.Keyword == "" || !ValidKeyword(row.Keyword) {
			continue
		}
		if _, dup := seen[row.Keyword]; dup {
			continue
		}
		seen[row.Keyword] = struct{}{}
		out = append(out, row)
	}
	return out
}

// Coerce parses the numeric columns. A row whose volume or competitor count
// fails to parse is marked imputed: volume takes the 10th percentile of the
// parsed volumes, competitor count the mean of the parsed counts.
func Coerce(rows []RawRow) []Record {
	out := make([]Record, 0, len(rows))
	volOK := make([]bool, 0, len(rows))
	compOK := make([]bool, 0, len(rows))
	for _, row := range rows {
		sv, okSV := parseCount(row.SearchVolume)
		cp, okCP := parseCount(row.CompetingProducts)
		out = append(out, Record{
			Keyword:           row.Keyword,
			SearchVolume:      sv,
			CompetingProducts: cp,
			IsImputed:         !okSV || !okCP,
			Relevance:         Unclassified,
		})
		volOK = append(volOK, okSV)
		compOK = append(compOK, okCP)
	}

	var vols, comps []float64
	for i, r := range out {
		if volOK[i] {
			vols = append(vols, float64(r.SearchVolume))
		}
		if compOK[i] {
			comps = append(comps, float64(r.CompetingProducts))
		}
	}
	fillSV := int(quantile(vols, volumeImputeQuantile))
	fillCP := int(mean(comps))
	for i := range out {
		if !volOK[i] {
			out[i].SearchVolume = fillSV
		}
		if !compOK[i] {
			out[i].CompetingProducts = fillCP
		}
	}
	return out
}

func parseCount(raw string) (int, bool) {
	cleaned := nonNumericRe.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return int(v), true
}

// quantile uses linear interpolation between closest ranks. Empty input yields 0.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
