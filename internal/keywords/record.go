package keywords

import "strings"

type Relevance string

const (
	Unclassified         Relevance = ""
	Direct               Relevance = "Direct"
	Related              Relevance = "Related"
	Indirect             Relevance = "Indirect"
	NotRelated           Relevance = "NotRelated"
	ClassificationFailed Relevance = "ClassificationFailed"
)

// ParseRelevance maps a model-provided category onto the known tiers.
// Unknown labels map to NotRelated.
func ParseRelevance(s string) Relevance {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	switch key {
	case "direct":
		return Direct
	case "related":
		return Related
	case "indirect":
		return Indirect
	default:
		return NotRelated
	}
}

// RawRow is one keyword row as read from a source file, before coercion.
type RawRow struct {
	Keyword           string
	SearchVolume      string
	CompetingProducts string
	Source            string
}

type Record struct {
	Keyword           string    `json:"keyword"`
	SearchVolume      int       `json:"search_volume"`
	CompetingProducts int       `json:"competing_products"`
	IsImputed         bool      `json:"is_imputed"`
	Relevance         Relevance `json:"relevance_category"`
	ValueScore        float64   `json:"value_score"`
}

func Names(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Keyword)
	}
	return out
}

// Index returns records keyed by keyword.
func Index(records []Record) map[string]Record {
	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.Keyword] = r
	}
	return out
}
