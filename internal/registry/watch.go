package registry

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"codenerd/internal/logging"
	"codenerd/internal/skill"
)

// ArtifactLoader resolves a dropped-in artifact file into a Skill handle and
// its trust tier, so the watcher stays agnostic to compiled vs interpreted
// loading strategy.
type ArtifactLoader func(path string) (name string, h skill.Skill, tier skill.Tier, err error)

// WatchArtifacts watches dir for newly created or written artifact files
// and hot-swaps them into the registry, so an out-of-band restored
// PatchVersion artifact is picked up without a process restart. Runs until
// ctx is canceled.
func (r *Registry) WatchArtifacts(ctx context.Context, dir string, load ArtifactLoader) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	log := logging.For(logging.CategoryRegistry)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			name, h, tier, err := load(event.Name)
			if err != nil {
				log.Sugar().Warnw("artifact load failed", "path", event.Name, "error", err)
				continue
			}
			if err := r.HotSwap(name, h, tier, event.Name); err != nil {
				log.Sugar().Warnw("artifact hot-swap failed", "skill", name, "path", event.Name, "error", err)
				continue
			}
			log.Sugar().Infow("artifact hot-swapped from watch", "skill", name, "path", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Sugar().Warnw("artifact watcher error", "error", err)
		}
	}
}
