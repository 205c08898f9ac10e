package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/4thel00z/docqa/internal"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func NewWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest new documents as they appear",
		Long:  `Watch the corpus folder and run an incremental ingestion after each burst of changes.`,
		RunE:  makeWatchRunner(a),
	}

	cmd.Flags().Duration("debounce", 2*time.Second, "Quiet period before ingesting a burst of changes")
	return cmd
}

func makeWatchRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")

		svc, err := a.service(cmd)
		if err != nil {
			return err
		}
		corpus := svc.Config().CorpusPath

		if err := os.MkdirAll(corpus, 0755); err != nil {
			return fmt.Errorf("create corpus directory: %w", err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()

		if err := addWatchDirs(watcher, corpus); err != nil {
			return fmt.Errorf("add watch dirs: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for new documents...\n", corpus)
		ingestAndReport(cmd, svc)

		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if shouldIgnoreEvent(event) {
					continue
				}
				if event.Op&fsnotify.Create != 0 {
					watchNewDir(watcher, event.Name)
				}
				timer.Reset(debounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
			case <-timer.C:
				ingestAndReport(cmd, svc)
			}
		}
	}
}

func ingestAndReport(cmd *cobra.Command, svc *internal.Service) {
	result, err := svc.Ingest(cmd.Context())
	switch {
	case errors.Is(err, internal.ErrIngestionLocked):
		fmt.Fprintln(cmd.ErrOrStderr(), "another ingestion is running, will retry on the next change")
	case err != nil:
		fmt.Fprintf(cmd.ErrOrStderr(), "ingest: %v\n", err)
	case !result.NoOp:
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] ", time.Now().Format(time.TimeOnly))
		printIngestResult(cmd, result)
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if info.IsDir() {
			if isHidden(path) && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

// watchNewDir starts watching a directory created after startup.
func watchNewDir(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = addWatchDirs(watcher, path)
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	if isHidden(event.Name) {
		return true
	}

	// removals never add work: the ledger only grows
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
