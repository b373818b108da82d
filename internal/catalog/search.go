package catalog

import (
	"math/rand/v2"
	"strings"
)

// PageSize is the fixed number of charts per listing page.
const PageSize = 20

// Difficulties enumerates the selectable difficulty tags.
var Difficulties = []string{"easy", "normal", "hard", "expert", "master", "append", "other"}

// Query is the faceted search input. A zero MaxRating means unbounded.
type Query struct {
	Keyword      string
	Difficulties []string
	MinRating    int
	MaxRating    int
	Random       bool
	Private      bool
	Page         int
}

// ResultPage is one page of a filtered listing.
type ResultPage struct {
	Items      []ChartRecord
	TotalCount int
	Page       int
	PageCount  int
}

// Filter applies the query facets (keyword, difficulty, rating range) to an
// ordered record list, preserving order.
func Filter(records []ChartRecord, query Query) []ChartRecord {
	keyword := strings.ToLower(strings.TrimSpace(query.Keyword))
	difficulties := normalizeDifficulties(query.Difficulties)

	filtered := make([]ChartRecord, 0, len(records))
	for _, record := range records {
		if keyword != "" && !matchesKeyword(&record, keyword) {
			continue
		}
		if difficulties != nil && !matchesDifficulty(&record, difficulties) {
			continue
		}
		if query.MinRating > 0 && record.Rating < query.MinRating {
			continue
		}
		if query.MaxRating > 0 && record.Rating > query.MaxRating {
			continue
		}
		filtered = append(filtered, record)
	}
	return filtered
}

// normalizeDifficulties returns nil when the selection imposes no filter:
// an empty set and the full set behave identically.
func normalizeDifficulties(selected []string) map[string]bool {
	if len(selected) == 0 {
		return nil
	}
	set := make(map[string]bool, len(selected))
	for _, difficulty := range selected {
		difficulty = strings.ToLower(strings.TrimSpace(difficulty))
		if difficulty != "" {
			set[difficulty] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	allSelected := true
	for _, difficulty := range Difficulties {
		if !set[difficulty] {
			allSelected = false
			break
		}
	}
	if allSelected {
		return nil
	}
	return set
}

// matchesKeyword checks title, artists and author in both locales,
// case-insensitively.
func matchesKeyword(record *ChartRecord, keyword string) bool {
	for _, field := range []LocalizedText{record.Title, record.Artists, record.Author} {
		if strings.Contains(strings.ToLower(field.EN), keyword) ||
			strings.Contains(strings.ToLower(field.JA), keyword) {
			return true
		}
	}
	return false
}

func matchesDifficulty(record *ChartRecord, selected map[string]bool) bool {
	for _, tag := range record.Tags {
		if tag.Icon == IconHeart {
			continue
		}
		if selected[strings.ToLower(tag.Title.EN)] || selected[strings.ToLower(tag.Title.JA)] {
			return true
		}
	}
	return false
}

// Shuffle reorders the records in place. Deliberately unseeded: repeated
// identical requests in random mode return different orders.
func Shuffle(records []ChartRecord) {
	rand.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
}

// Paginate slices one fixed-size page out of the filtered set. Page numbers
// start at zero; out-of-range pages yield an empty item list. Under the
// default ordering, concatenating pages 0..PageCount-1 reproduces the
// filtered set exactly once.
func Paginate(records []ChartRecord, page int) ResultPage {
	total := len(records)
	pageCount := (total + PageSize - 1) / PageSize
	if page < 0 {
		page = 0
	}

	start := page * PageSize
	if start >= total {
		return ResultPage{Items: []ChartRecord{}, TotalCount: total, Page: page, PageCount: pageCount}
	}
	end := start + PageSize
	if end > total {
		end = total
	}
	return ResultPage{
		Items:      append([]ChartRecord(nil), records[start:end]...),
		TotalCount: total,
		Page:       page,
		PageCount:  pageCount,
	}
}
