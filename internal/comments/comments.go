// Package comments ranks, pages and threads the comments of a content item.
// Ranking is computed at query time from the values passed in; nothing is
// cached between pages.
package comments

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"modhub/api/internal/store"
)

type Strategy int

const (
	Newest Strategy = iota
	Oldest
	Best
)

func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "newest":
		return Newest, nil
	case "oldest":
		return Oldest, nil
	case "best":
		return Best, nil
	default:
		return 0, fmt.Errorf("unknown comment sort %q", raw)
	}
}

func (s Strategy) String() string {
	switch s {
	case Newest:
		return "newest"
	case Oldest:
		return "oldest"
	case Best:
		return "best"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Score is likeCount - decay * ageInHours.
func Score(c store.Comment, now time.Time, decay float64) float64 {
	age := now.Sub(c.CreatedAt).Hours()
	if age < 0 {
		age = 0
	}
	return float64(c.LikeCount) - decay*age
}

type sortKey struct {
	primary float64
	created time.Time
	id      string
}

// Rank returns a new slice ordered by strategy. Ties fall back to creation
// time (newest first, except for Oldest) and then ID.
func Rank(items []store.Comment, strategy Strategy, now time.Time, decay float64) []store.Comment {
	ranked := make([]store.Comment, len(items))
	copy(ranked, items)
	keys := make(map[string]sortKey, len(ranked))
	for _, c := range ranked {
		key := sortKey{created: c.CreatedAt, id: c.ID}
		switch strategy {
		case Newest:
			key.primary = float64(c.CreatedAt.UnixNano())
		case Oldest:
			key.primary = -float64(c.CreatedAt.UnixNano())
		case Best:
			key.primary = Score(c, now, decay)
		default:
			panic(fmt.Sprintf("comments: unhandled strategy %d", int(strategy)))
		}
		keys[c.ID] = key
	}

	ascending := strategy == Oldest
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := keys[ranked[i].ID], keys[ranked[j].ID]
		if a.primary != b.primary {
			return a.primary > b.primary
		}
		if !a.created.Equal(b.created) {
			if ascending {
				return a.created.Before(b.created)
			}
			return a.created.After(b.created)
		}
		return a.id < b.id
	})
	return ranked
}

// Page slices a 1-based page out of items. size is clamped to [1, maxSize].
// A page past the end is empty with hasMore false.
func Page(items []store.Comment, page, size, maxSize int) ([]store.Comment, bool) {
	if maxSize <= 0 {
		maxSize = 50
	}
	if size <= 0 {
		size = maxSize
	}
	if size > maxSize {
		size = maxSize
	}
	if page < 1 {
		page = 1
	}
	// Compare in page units first so huge page numbers cannot overflow.
	if len(items) == 0 || page-1 > (len(items)-1)/size {
		return []store.Comment{}, false
	}
	start := (page - 1) * size
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	out := make([]store.Comment, end-start)
	copy(out, items[start:end])
	return out, end < len(items)
}

type Thread struct {
	Comment store.Comment
	Replies []Thread
}

// BuildThreads nests every reply beneath its parent, oldest first, for the
// given top-level comments. Replies whose root is not in top are dropped.
func BuildThreads(top []store.Comment, replies []store.Comment) []Thread {
	children := make(map[string][]store.Comment)
	for _, reply := range replies {
		if reply.ParentID == nil {
			continue
		}
		children[*reply.ParentID] = append(children[*reply.ParentID], reply)
	}
	for parent := range children {
		siblings := children[parent]
		sort.SliceStable(siblings, func(i, j int) bool {
			if !siblings[i].CreatedAt.Equal(siblings[j].CreatedAt) {
				return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
			}
			return siblings[i].ID < siblings[j].ID
		})
	}

	threads := make([]Thread, 0, len(top))
	for _, c := range top {
		threads = append(threads, buildThread(c, children, map[string]bool{}))
	}
	return threads
}

func buildThread(c store.Comment, children map[string][]store.Comment, seen map[string]bool) Thread {
	seen[c.ID] = true
	thread := Thread{Comment: c, Replies: []Thread{}}
	for _, child := range children[c.ID] {
		if seen[child.ID] {
			continue
		}
		thread.Replies = append(thread.Replies, buildThread(child, children, seen))
	}
	return thread
}
