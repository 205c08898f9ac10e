package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// DocumentSource lists and reads the corpus. Names are slash-separated paths
// relative to the corpus root.
type DocumentSource interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Root() string
}

var _ DocumentSource = (*DirSource)(nil)

type DirSource struct {
	fs     billy.Filesystem
	ignore *IgnoreMatcher
}

func NewDirSource(root string) (*DirSource, error) {
	return NewFSSource(osfs.New(root))
}

func NewFSSource(fs billy.Filesystem) (*DirSource, error) {
	ignore, err := NewIgnoreMatcher(fs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", IgnoreFilename, err)
	}
	return &DirSource{fs: fs, ignore: ignore}, nil
}

func (s *DirSource) Root() string {
	return s.fs.Root()
}

// List walks the corpus and returns every visible, non-ignored file, sorted.
// A missing corpus root lists as empty.
func (s *DirSource) List(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.walk(ctx, "", &names); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *DirSource) walk(ctx context.Context, dir string, names *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	infos, err := s.fs.ReadDir(dirOrRoot(dir))
	if err != nil {
		if dir == "" && isNotExist(err) {
			return nil
		}
		return fmt.Errorf("list %s: %w", dirOrRoot(dir), err)
	}

	for _, info := range infos {
		name := info.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		rel := name
		if dir != "" {
			rel = path.Join(dir, name)
		}

		if info.IsDir() {
			if s.ignore.MatchDir(rel) {
				continue
			}
			if err := s.walk(ctx, rel, names); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() || s.ignore.Match(rel) {
			continue
		}
		*names = append(*names, rel)
	}
	return nil
}

func (s *DirSource) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Abs returns the on-disk path of name for log lines and error messages.
func (s *DirSource) Abs(name string) string {
	return s.fs.Join(s.fs.Root(), name)
}

func dirOrRoot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || os.IsNotExist(err)
}
