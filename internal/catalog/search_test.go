package catalog

import (
	"fmt"
	"testing"
)

func searchFixture() []ChartRecord {
	return []ChartRecord{
		{
			Name:    "utsk-1",
			Title:   LocalizedText{EN: "Stellar Drift", JA: "ステラドリフト"},
			Artists: LocalizedText{EN: "Nova", JA: "ノヴァ"},
			Author:  Text("alice#1001"),
			Rating:  25,
			Tags:    []Tag{{Title: Text("master")}, {Title: Text("12"), Icon: IconHeart}},
		},
		{
			Name:    "utsk-2",
			Title:   LocalizedText{EN: "Morning Rain", JA: "朝の雨"},
			Artists: LocalizedText{EN: "Kumo", JA: "クモ"},
			Author:  Text("bob#1002"),
			Rating:  8,
			Tags:    []Tag{{Title: Text("normal")}},
		},
		{
			Name:    "utsk-3",
			Title:   LocalizedText{EN: "Afterglow", JA: "アフターグロウ"},
			Artists: LocalizedText{EN: "Nova", JA: "ノヴァ"},
			Author:  Text("carol#1003"),
			Rating:  31,
			Tags:    []Tag{{Title: Text("expert")}},
		},
	}
}

func TestFilterKeywordMatchesBothLocales(t *testing.T) {
	records := searchFixture()

	byTitleEN := Filter(records, Query{Keyword: "stellar"})
	if len(byTitleEN) != 1 || byTitleEN[0].Name != "utsk-1" {
		t.Fatalf("keyword by EN title: %+v", byTitleEN)
	}

	byTitleJA := Filter(records, Query{Keyword: "朝の雨"})
	if len(byTitleJA) != 1 || byTitleJA[0].Name != "utsk-2" {
		t.Fatalf("keyword by JA title: %+v", byTitleJA)
	}

	byArtist := Filter(records, Query{Keyword: "NOVA"})
	if len(byArtist) != 2 {
		t.Fatalf("keyword by artist should be case-insensitive: %+v", byArtist)
	}

	byAuthor := Filter(records, Query{Keyword: "carol"})
	if len(byAuthor) != 1 || byAuthor[0].Name != "utsk-3" {
		t.Fatalf("keyword by author: %+v", byAuthor)
	}
}

func TestFilterDifficultySet(t *testing.T) {
	records := searchFixture()

	selected := Filter(records, Query{Difficulties: []string{"master", "expert"}})
	if len(selected) != 2 {
		t.Fatalf("expected master+expert charts, got %+v", selected)
	}

	if got := Filter(records, Query{Difficulties: nil}); len(got) != 3 {
		t.Fatalf("empty selection must not filter, got %d", len(got))
	}

	if got := Filter(records, Query{Difficulties: Difficulties}); len(got) != 3 {
		t.Fatalf("all-selected must not filter, got %d", len(got))
	}
}

func TestFilterRatingRange(t *testing.T) {
	records := searchFixture()

	got := Filter(records, Query{MinRating: 10, MaxRating: 30})
	if len(got) != 1 || got[0].Name != "utsk-1" {
		t.Fatalf("rating range [10,30]: %+v", got)
	}

	if got := Filter(records, Query{MaxRating: 0}); len(got) != 3 {
		t.Fatalf("zero max rating means unbounded, got %d", len(got))
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	records := searchFixture()
	got := Filter(records, Query{})
	for i, record := range records {
		if got[i].Name != record.Name {
			t.Fatalf("order changed at %d: %q", i, got[i].Name)
		}
	}
}

func TestPaginatePartitionsFilteredSet(t *testing.T) {
	var records []ChartRecord
	for i := 0; i < 47; i++ {
		records = append(records, ChartRecord{Name: fmt.Sprintf("utsk-%02d", i)})
	}

	first := Paginate(records, 0)
	if first.PageCount != 3 || first.TotalCount != 47 {
		t.Fatalf("unexpected page accounting: %+v", first)
	}

	seen := map[string]bool{}
	count := 0
	for page := 0; page < first.PageCount; page++ {
		result := Paginate(records, page)
		for _, item := range result.Items {
			if seen[item.Name] {
				t.Fatalf("duplicate item %q across pages", item.Name)
			}
			seen[item.Name] = true
			count++
		}
	}
	if count != len(records) {
		t.Fatalf("pages must partition the set: got %d of %d", count, len(records))
	}

	if beyond := Paginate(records, 99); len(beyond.Items) != 0 {
		t.Fatalf("out-of-range page should be empty, got %d items", len(beyond.Items))
	}
}

func TestShuffleIsNotReproducible(t *testing.T) {
	names := func(records []ChartRecord) string {
		var joined string
		for _, record := range records {
			joined += record.Name + ","
		}
		return joined
	}

	base := make([]ChartRecord, 32)
	for i := range base {
		base[i] = ChartRecord{Name: fmt.Sprintf("utsk-%02d", i)}
	}

	// Two independent shuffles of 32 elements collide with probability
	// 1/32!, so a handful of attempts distinguishes unseeded shuffling
	// from a fixed permutation.
	distinct := false
	for attempt := 0; attempt < 5 && !distinct; attempt++ {
		first := append([]ChartRecord(nil), base...)
		second := append([]ChartRecord(nil), base...)
		Shuffle(first)
		Shuffle(second)
		if names(first) != names(second) {
			distinct = true
		}
	}
	if !distinct {
		t.Fatalf("repeated shuffles produced identical orders")
	}
}
