package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/configurator/pkg/config"
)

const watchDebounce = 300 * time.Millisecond

func newWatchCommand(a *app) *cobra.Command {
	var scenarios string

	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Re-validate model documents when they change",
		Long: `Validate the model once, then again whenever a model document under the
given paths is written, created, removed or renamed. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return a.watch(cmd, args, scenarios)
		},
	}

	cmd.Flags().StringVarP(&scenarios, "scenarios", "s", "", "edit script to check on every change")
	return cmd
}

func (a *app) watch(cmd *cobra.Command, paths []string, scenarios string) error {
	ctx := cmd.Context()
	log := a.tel.Logger.NewComponentLogger("watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range paths {
		if err := addWatchPaths(watcher, p); err != nil {
			return err
		}
	}

	validate := func() {
		if err := a.runValidate(cmd, paths, scenarios); err != nil {
			log.Debugf("validation: %v", err)
		}
	}
	validate()

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			if ctx.Err() == context.Canceled {
				return nil
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addWatchPaths(watcher, event.Name)
				}
			}
			log.Debugf("change detected: %s", event)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			fmt.Fprintf(cmd.OutOrStdout(), "\n[%s] re-validating\n", time.Now().Format(time.TimeOnly))
			validate()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return config.IsModelFile(event.Name) || filepath.Ext(event.Name) == ""
}

// addWatchPaths watches path, or every non-hidden directory below it.
func addWatchPaths(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return w.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && len(d.Name()) > 1 && d.Name()[0] == '.' {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
