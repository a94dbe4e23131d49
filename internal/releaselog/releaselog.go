// Package releaselog mirrors approved releases into one git repository per
// content item. Each release is a commit that rewrites release.json and
// CHANGELOG.md, tagged with the version number.
package releaselog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	manifestFile  = "release.json"
	changelogFile = "CHANGELOG.md"
	mainBranch    = "main"
)

type Release struct {
	ItemID      string    `json:"itemId"`
	Title       string    `json:"title"`
	Number      string    `json:"number"`
	Changelog   []string  `json:"changelog"`
	FileRef     string    `json:"fileRef,omitempty"`
	ExternalURL string    `json:"externalUrl,omitempty"`
	FileSize    int64     `json:"fileSize"`
	SubmittedBy string    `json:"submittedBy"`
	ApprovedBy  string    `json:"approvedBy"`
	ReleasedAt  time.Time `json:"releasedAt"`
}

type Entry struct {
	Hash      string    `json:"hash"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func TagName(number string) string {
	return "v" + number
}

// Record commits release and tags it. Recording the same version twice is a
// no-op that returns the existing entry.
func (s *Service) Record(release Release) (Entry, error) {
	lock := s.itemLock(release.ItemID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(release.ItemID)
	if err != nil {
		return Entry{}, err
	}

	tag := TagName(release.Number)
	if ref, err := repo.Tag(tag); err == nil {
		target := ref.Hash()
		if tagObj, err := repo.TagObject(target); err == nil {
			target = tagObj.Target
		}
		commitObj, err := repo.CommitObject(target)
		if err != nil {
			return Entry{}, fmt.Errorf("read tagged commit: %w", err)
		}
		return toEntry(commitObj, tag), nil
	} else if !errors.Is(err, git.ErrTagNotFound) {
		return Entry{}, fmt.Errorf("resolve tag %s: %w", tag, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	manifest, err := json.MarshalIndent(release, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("marshal release: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, manifestFile), append(manifest, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write %s: %w", manifestFile, err)
	}
	if err := prependChangelog(filepath.Join(root, changelogFile), release); err != nil {
		return Entry{}, err
	}
	for _, name := range []string{manifestFile, changelogFile} {
		if _, err := worktree.Add(name); err != nil {
			return Entry{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	when := release.ReleasedAt
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(fmt.Sprintf("Release %s\n\napproved-by: %s", release.Number, release.ApprovedBy), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  release.SubmittedBy,
			Email: fmt.Sprintf("%s@users.modhub.local", sanitizeEmail(release.SubmittedBy)),
			When:  when,
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit release: %w", err)
	}

	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "modhub",
			Email: "releases@modhub.local",
			When:  when,
		},
		Message: fmt.Sprintf("%s %s", release.Title, release.Number),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Entry{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj, tag), nil
}

// History lists releases newest first. An item with no mirror yet has an
// empty history.
func (s *Service) History(itemID string, limit int) ([]Entry, error) {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(itemID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	tags := make(map[plumbing.Hash]string)
	tagIter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	err = tagIter.ForEach(func(ref *plumbing.Reference) error {
		hash := ref.Hash()
		if tagObj, err := repo.TagObject(hash); err == nil {
			hash = tagObj.Target
		}
		tags[hash] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}

	head, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toEntry(commitObj, tags[commitObj.Hash]))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) openOrInit(itemID string) (*git.Repository, error) {
	path := s.repoPath(itemID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(itemID string) string {
	return filepath.Join(s.baseDir, filepath.Base(filepath.Clean("/"+itemID)))
}

func (s *Service) itemLock(itemID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[itemID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[itemID] = lock
	return lock
}

func prependChangelog(path string, release Release) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", changelogFile, err)
	}

	var section strings.Builder
	fmt.Fprintf(&section, "## %s (%s)\n\n", release.Number, release.ReleasedAt.UTC().Format("2006-01-02"))
	if len(release.Changelog) == 0 {
		section.WriteString("- No changes listed\n")
	}
	for _, line := range release.Changelog {
		fmt.Fprintf(&section, "- %s\n", strings.TrimSpace(line))
	}
	section.WriteString("\n")

	body := strings.TrimPrefix(string(existing), "# Changelog\n\n")
	content := "# Changelog\n\n" + section.String() + body
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", changelogFile, err)
	}
	return nil
}

func toEntry(commitObj *object.Commit, tag string) Entry {
	return Entry{
		Hash:      commitObj.Hash.String()[:7],
		Tag:       tag,
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
