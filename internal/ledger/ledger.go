// Package ledger enforces monotonic, append-only version numbering for
// content items.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"modhub/api/internal/store"
)

const maxSegments = 4

var (
	ErrInvalidVersion = errors.New("invalid version")
	ErrMalformed      = fmt.Errorf("%w: malformed version number", ErrInvalidVersion)
	ErrNotIncreasing  = fmt.Errorf("%w: version must be greater than the latest release", ErrInvalidVersion)
	ErrOutOfOrder     = errors.New("version appended out of order")
)

// Number is a parsed dotted numeric version such as 2.10.0.
type Number struct {
	raw      string
	segments []uint64
}

func Parse(raw string) (Number, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Number{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) > maxSegments {
		return Number{}, fmt.Errorf("%w: %q has more than %d segments", ErrMalformed, raw, maxSegments)
	}
	segments := make([]uint64, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return Number{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformed, raw)
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return Number{}, fmt.Errorf("%w: %q has a non-numeric segment", ErrMalformed, raw)
			}
		}
		value, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Number{}, fmt.Errorf("%w: %q: %v", ErrMalformed, raw, err)
		}
		segments = append(segments, value)
	}
	return Number{raw: trimmed, segments: segments}, nil
}

func (n Number) String() string {
	return n.raw
}

// Compare returns -1, 0 or 1. Missing trailing segments count as zero.
func (n Number) Compare(other Number) int {
	size := len(n.segments)
	if len(other.segments) > size {
		size = len(other.segments)
	}
	for i := 0; i < size; i++ {
		a, b := segmentAt(n.segments, i), segmentAt(other.segments, i)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

func segmentAt(segments []uint64, i int) uint64 {
	if i < len(segments) {
		return segments[i]
	}
	return 0
}

type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// Propose validates candidate against the latest released version. A nil
// latest means the item has no releases yet and any well-formed number is
// accepted.
func (l *Ledger) Propose(latest *store.Version, candidate string) (Number, error) {
	next, err := Parse(candidate)
	if err != nil {
		return Number{}, err
	}
	if latest == nil {
		return next, nil
	}
	current, err := Parse(latest.Number)
	if err != nil {
		return Number{}, fmt.Errorf("stored version %q: %w", latest.Number, err)
	}
	if next.Compare(current) <= 0 {
		return Number{}, fmt.Errorf("%w: %s <= %s", ErrNotIncreasing, next, current)
	}
	return next, nil
}

// Append is the only way a version enters the ledger. It re-reads the
// latest version inside the caller's item section and refuses anything
// that does not sort strictly after it.
func (l *Ledger) Append(ctx context.Context, tx store.ItemTx, version store.Version) error {
	latest, err := tx.LatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("read latest version: %w", err)
	}
	if _, err := l.Propose(latest, version.Number); err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfOrder, err)
	}
	if version.IsInitial && latest != nil {
		return fmt.Errorf("%w: initial version on an item with releases", ErrOutOfOrder)
	}
	return tx.AppendVersion(ctx, version)
}
