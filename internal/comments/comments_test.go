package comments

import (
	"math"
	"testing"
	"time"

	"modhub/api/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func comment(id string, likes int, age time.Duration) store.Comment {
	return store.Comment{ID: id, ItemID: "item-1", LikeCount: likes, CreatedAt: now.Add(-age)}
}

func ids(items []store.Comment) []string {
	out := make([]string, 0, len(items))
	for _, c := range items {
		out = append(out, c.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBestRankingWithPagination(t *testing.T) {
	items := []store.Comment{
		comment("A", 10, 2*time.Hour),
		comment("B", 1, time.Hour),
		comment("C", 10, time.Hour),
	}
	ranked := Rank(items, Best, now, 0.5)

	first, hasMore := Page(ranked, 1, 2, 50)
	if got := ids(first); !equalIDs(got, []string{"C", "A"}) || !hasMore {
		t.Fatalf("page 1 = %v hasMore=%v, want [C A] true", got, hasMore)
	}
	second, hasMore := Page(ranked, 2, 2, 50)
	if got := ids(second); !equalIDs(got, []string{"B"}) || hasMore {
		t.Fatalf("page 2 = %v hasMore=%v, want [B] false", got, hasMore)
	}
}

func TestBestTieBreaksByRecency(t *testing.T) {
	items := []store.Comment{
		comment("old", 5, 3*time.Hour),
		comment("new", 5, 3*time.Hour-time.Minute),
	}
	ranked := Rank(items, Best, now, 0)
	if got := ids(ranked); !equalIDs(got, []string{"new", "old"}) {
		t.Fatalf("expected newest first on equal score, got %v", got)
	}
}

func TestNewestAndOldest(t *testing.T) {
	items := []store.Comment{
		comment("mid", 0, 2*time.Hour),
		comment("new", 0, time.Hour),
		comment("old", 0, 3*time.Hour),
	}
	tests := []struct {
		strategy Strategy
		want     []string
	}{
		{Newest, []string{"new", "mid", "old"}},
		{Oldest, []string{"old", "mid", "new"}},
	}
	for _, tc := range tests {
		if got := ids(Rank(items, tc.strategy, now, 0.5)); !equalIDs(got, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.strategy, got, tc.want)
		}
	}
	if got := ids(items); !equalIDs(got, []string{"mid", "new", "old"}) {
		t.Fatalf("Rank must not reorder its input, got %v", got)
	}
}

func TestPageClampsAndOutOfRange(t *testing.T) {
	items := make([]store.Comment, 0, 5)
	for i := 0; i < 5; i++ {
		items = append(items, comment(string(rune('a'+i)), 0, time.Duration(i)*time.Hour))
	}

	page, hasMore := Page(items, 1, 100, 3)
	if len(page) != 3 || !hasMore {
		t.Fatalf("expected size clamped to 3 with more, got %d %v", len(page), hasMore)
	}
	page, hasMore = Page(items, 9, 2, 3)
	if len(page) != 0 || hasMore {
		t.Fatalf("expected empty page without more, got %d %v", len(page), hasMore)
	}
	page, _ = Page(items, 0, 0, 2)
	if got := ids(page); !equalIDs(got, []string{"a", "b"}) {
		t.Fatalf("expected defaults to first page of max size, got %v", got)
	}
	page, hasMore = Page(items, 3, 2, 3)
	if got := ids(page); !equalIDs(got, []string{"e"}) || hasMore {
		t.Fatalf("expected last partial page without more, got %v %v", got, hasMore)
	}

	for _, huge := range []int{math.MaxInt, math.MaxInt / 50 * 2} {
		page, hasMore = Page(items, huge, 50, 50)
		if len(page) != 0 || hasMore {
			t.Fatalf("page %d: expected empty page without more, got %d %v", huge, len(page), hasMore)
		}
	}
	page, hasMore = Page(nil, 1, 10, 10)
	if len(page) != 0 || hasMore {
		t.Fatalf("expected empty input to give empty page, got %d %v", len(page), hasMore)
	}
}

func TestParseStrategy(t *testing.T) {
	for raw, want := range map[string]Strategy{"": Newest, "newest": Newest, "OLDEST": Oldest, " best ": Best} {
		got, err := ParseStrategy(raw)
		if err != nil || got != want {
			t.Fatalf("ParseStrategy(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseStrategy("hot"); err == nil {
		t.Fatal("expected unknown strategy to fail")
	}
}

func TestBuildThreadsNestsRepliesOldestFirst(t *testing.T) {
	root := "root"
	child := "r2"
	top := []store.Comment{comment("root", 0, 5*time.Hour), comment("lonely", 0, time.Hour)}
	replies := []store.Comment{
		{ID: "r2", ParentID: &root, CreatedAt: now.Add(-2 * time.Hour), LikeCount: 50},
		{ID: "r1", ParentID: &root, CreatedAt: now.Add(-4 * time.Hour)},
		{ID: "r3", ParentID: &child, CreatedAt: now.Add(-time.Hour)},
	}

	threads := BuildThreads(top, replies)
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	first := threads[0]
	if len(first.Replies) != 2 || first.Replies[0].Comment.ID != "r1" || first.Replies[1].Comment.ID != "r2" {
		t.Fatalf("unexpected replies: %+v", first.Replies)
	}
	if len(first.Replies[1].Replies) != 1 || first.Replies[1].Replies[0].Comment.ID != "r3" {
		t.Fatalf("expected nested r3 under r2, got %+v", first.Replies[1].Replies)
	}
	if len(threads[1].Replies) != 0 {
		t.Fatalf("expected no replies under lonely, got %d", len(threads[1].Replies))
	}
}
