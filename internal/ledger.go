package internal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ledger is the append-only record of ingested filenames, one per line.
type Ledger struct {
	mu    sync.Mutex
	path  string
	names map[string]struct{}
}

// OpenLedger reads the ledger at path. A missing file is an empty ledger.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{
		path:  path,
		names: make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		name := strings.TrimRight(scanner.Text(), "\r")
		if name == "" {
			continue
		}
		l.names[name] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	return l, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Contains(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.names[name]
	return ok
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.names)
}

// Names returns the ledger contents sorted.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.names))
	for n := range l.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Missing returns the names from listing that are not in the ledger, sorted.
func (l *Ledger) Missing(listing []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(listing))
	var out []string
	for _, n := range listing {
		if _, done := l.names[n]; done {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Append durably records names. Names already present are skipped, so a
// filename is written at most once. The file is synced before returning.
func (l *Ledger) Append(names ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	var added []string
	pending := make(map[string]struct{}, len(names))
	for _, n := range names {
		if strings.ContainsAny(n, "\r\n") {
			return fmt.Errorf("ledger: %w: %q", ErrInvalidFilename, n)
		}
		if _, ok := l.names[n]; ok {
			continue
		}
		if _, ok := pending[n]; ok {
			continue
		}
		pending[n] = struct{}{}
		added = append(added, n)
		sb.WriteString(n)
		sb.WriteByte('\n')
	}
	if len(added) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}

	for _, n := range added {
		l.names[n] = struct{}{}
	}
	return nil
}
