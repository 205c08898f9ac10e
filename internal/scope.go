package internal

import (
	"os"
	"path/filepath"
)

const (
	ConfigFilename = "docqa.yaml"
	StateDirname   = ".docqa"
)

// Workspace is where a configuration lives. Relative paths in the
// configuration are resolved against Root.
type Workspace struct {
	Root       string
	ConfigPath string
	// Found is false when no configuration file exists yet.
	Found bool
}

func (w Workspace) StateDir() string {
	return filepath.Join(w.Root, StateDirname)
}

type WorkspaceResolver struct {
	homeDir string
	cwd     string
}

func NewWorkspaceResolver() *WorkspaceResolver {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	return &WorkspaceResolver{homeDir: home, cwd: cwd}
}

// Resolve picks, in order: an explicit config path, the nearest docqa.yaml
// above the working directory, then ~/.docqa/docqa.yaml.
func (r *WorkspaceResolver) Resolve(explicit string) Workspace {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			abs = explicit
		}
		_, statErr := os.Stat(abs)
		return Workspace{Root: filepath.Dir(abs), ConfigPath: abs, Found: statErr == nil}
	}
	if ws, ok := r.find(r.cwd); ok {
		return ws
	}
	return r.Global()
}

// Local is the workspace rooted at the working directory, used by init.
func (r *WorkspaceResolver) Local() Workspace {
	path := filepath.Join(r.cwd, ConfigFilename)
	_, err := os.Stat(path)
	return Workspace{Root: r.cwd, ConfigPath: path, Found: err == nil}
}

func (r *WorkspaceResolver) Global() Workspace {
	root := filepath.Join(r.homeDir, StateDirname)
	path := filepath.Join(root, ConfigFilename)
	_, err := os.Stat(path)
	return Workspace{Root: root, ConfigPath: path, Found: err == nil}
}

func (r *WorkspaceResolver) find(dir string) (Workspace, bool) {
	if dir == "" {
		return Workspace{}, false
	}
	for {
		path := filepath.Join(dir, ConfigFilename)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return Workspace{Root: dir, ConfigPath: path, Found: true}, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Workspace{}, false
		}
		dir = parent
	}
}
