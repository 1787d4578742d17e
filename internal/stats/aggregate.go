package stats

import (
	"sort"
	"strings"
)

const (
	StanceSupportive = "supportive"
	StanceFactual    = "factual"
	StanceCritical   = "critical"

	DefaultStanceScore = 50.0

	// UnknownCountry keys articles that arrive without a country code.
	UnknownCountry = "ZZ"

	MinCountries             = 3
	MinSingleCountryArticles = 5
)

// ArticleStance is the slice of an article the aggregator needs.
type ArticleStance struct {
	ID          int64
	CountryCode string
	SourceName  string
	Stance      string
	Score       *float64
}

type CountryStat struct {
	CountryCode     string  `json:"country_code"`
	ArticleCount    int     `json:"article_count"`
	SupportiveCount int     `json:"supportive_count"`
	FactualCount    int     `json:"factual_count"`
	CriticalCount   int     `json:"critical_count"`
	SourceCount     int     `json:"source_count"`
	AvgStanceScore  float64 `json:"avg_stance_score"`
}

type Result struct {
	Countries     []CountryStat `json:"countries"`
	CountryCount  int           `json:"country_count"`
	TotalArticles int           `json:"total_articles"`
	SourceCount   int           `json:"source_count"`
}

// CountryCodes returns the sorted country keys with at least one article.
func (r Result) CountryCodes() []string {
	codes := make([]string, 0, len(r.Countries))
	for _, c := range r.Countries {
		if c.ArticleCount > 0 {
			codes = append(codes, c.CountryCode)
		}
	}
	return codes
}

// Qualifies reports whether a cluster should be kept as a megatopic.
func (r Result) Qualifies() bool {
	return Qualifies(r.CountryCount, r.TotalArticles)
}

// Qualifies applies the megatopic rule: at least three countries, or a single
// country carrying at least five articles.
func Qualifies(countryCount, totalArticles int) bool {
	if countryCount >= MinCountries {
		return true
	}
	return countryCount == 1 && totalArticles >= MinSingleCountryArticles
}

// NormalizeStance maps a raw label to one of the three stances. Anything
// unrecognized counts as factual.
func NormalizeStance(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StanceSupportive:
		return StanceSupportive
	case StanceCritical:
		return StanceCritical
	default:
		return StanceFactual
	}
}

func NormalizeCountry(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return UnknownCountry
	}
	return code
}

type countryAccumulator struct {
	stat     CountryStat
	sources  map[string]struct{}
	scoreSum float64
}

// Aggregate rolls article stances up per country. Articles sharing a non-zero
// ID are counted once.
func Aggregate(articles []ArticleStance) Result {
	byCountry := make(map[string]*countryAccumulator)
	seenIDs := make(map[int64]struct{}, len(articles))
	allSources := make(map[string]struct{})

	for _, article := range articles {
		if article.ID != 0 {
			if _, dup := seenIDs[article.ID]; dup {
				continue
			}
			seenIDs[article.ID] = struct{}{}
		}

		code := NormalizeCountry(article.CountryCode)
		acc, ok := byCountry[code]
		if !ok {
			acc = &countryAccumulator{
				stat:    CountryStat{CountryCode: code},
				sources: make(map[string]struct{}),
			}
			byCountry[code] = acc
		}

		acc.stat.ArticleCount++
		switch NormalizeStance(article.Stance) {
		case StanceSupportive:
			acc.stat.SupportiveCount++
		case StanceCritical:
			acc.stat.CriticalCount++
		default:
			acc.stat.FactualCount++
		}

		score := DefaultStanceScore
		if article.Score != nil {
			score = *article.Score
		}
		acc.scoreSum += score

		if source := strings.TrimSpace(article.SourceName); source != "" {
			acc.sources[source] = struct{}{}
			allSources[source] = struct{}{}
		}
	}

	result := Result{
		Countries: make([]CountryStat, 0, len(byCountry)),
	}
	for _, acc := range byCountry {
		stat := acc.stat
		stat.SourceCount = len(acc.sources)
		if stat.ArticleCount > 0 {
			stat.AvgStanceScore = acc.scoreSum / float64(stat.ArticleCount)
		}
		result.Countries = append(result.Countries, stat)
		result.TotalArticles += stat.ArticleCount
	}
	sort.Slice(result.Countries, func(i, j int) bool {
		return result.Countries[i].CountryCode < result.Countries[j].CountryCode
	})
	result.CountryCount = len(result.Countries)
	result.SourceCount = len(allSources)
	return result
}
