package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/4thel00z/docqa/internal"
	"github.com/stretchr/testify/assert"
)

func TestFindExternal(t *testing.T) {
	tmp := t.TempDir()
	script := filepath.Join(tmp, "docqa-test")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho ok"), 0755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", tmp+string(os.PathListSeparator)+os.Getenv("PATH"))

	path, err := findExternal("test")
	if err != nil {
		t.Fatalf("expected to find docqa-test, got error: %v", err)
	}
	if path != script {
		t.Errorf("expected %s, got %s", script, path)
	}
}

func TestFindExternalNotFound(t *testing.T) {
	_, err := findExternal("nonexistent-command-12345")
	if err == nil {
		t.Fatal("expected error for nonexistent command")
	}
}

func TestListExternalCommands(t *testing.T) {
	tmp := t.TempDir()

	for _, s := range []string{"docqa-foo", "docqa-bar", "other-script"} {
		if err := os.WriteFile(filepath.Join(tmp, s), []byte("#!/bin/sh"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, "docqa-noexec"), []byte("#!/bin/sh"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", tmp)

	assert.ElementsMatch(t, []string{"foo", "bar"}, listExternalCommands())
}

func TestBuildExternalEnv(t *testing.T) {
	ws := internal.Workspace{Root: "/work", ConfigPath: "/work/docqa.yaml"}
	env := buildExternalEnv("1.0.0", ws)

	got := map[string]string{}
	for _, e := range env {
		k, v, _ := strings.Cut(e, "=")
		if strings.HasPrefix(k, "DOCQA_") {
			got[k] = v
		}
	}

	assert.Equal(t, "1.0.0", got["DOCQA_VERSION"])
	assert.Equal(t, "/work", got["DOCQA_ROOT"])
	assert.Equal(t, "/work/docqa.yaml", got["DOCQA_CONFIG"])
	assert.Contains(t, got, "DOCQA_BIN")
}
