package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	core "github.com/aevon-lab/carbonrelay/internal/core/aggregation"
	"github.com/aevon-lab/carbonrelay/internal/core/rewrite"
	"github.com/fsnotify/fsnotify"
)

const defaultReloadDelay = 250 * time.Millisecond

// RuleWatcher reloads aggregation and rewrite rules when their files change.
// A reload installs both new snapshots or, on any error, neither.
type RuleWatcher struct {
	rulesDir    string
	rewriteFile string
	rules       *core.RuleStore
	delay       time.Duration
}

// NewRuleWatcher watches rulesDir and rewriteFile (which may be empty).
func NewRuleWatcher(rulesDir, rewriteFile string, rules *core.RuleStore) *RuleWatcher {
	return &RuleWatcher{
		rulesDir:    rulesDir,
		rewriteFile: rewriteFile,
		rules:       rules,
		delay:       defaultReloadDelay,
	}
}

// Reload loads both rule sources and swaps them in as one snapshot.
func (w *RuleWatcher) Reload() error {
	rs, err := core.LoadRuleSet(w.rulesDir)
	if err != nil {
		return fmt.Errorf("reloading aggregation rules: %w", err)
	}
	p, err := rewrite.LoadFile(w.rewriteFile)
	if err != nil {
		return fmt.Errorf("reloading rewrite rules: %w", err)
	}

	previous := w.rules.Load().Fingerprint()
	w.rules.Replace(rs, p)
	slog.Info("[RuleWatcher] Rules reloaded",
		"rules", rs.Len(),
		"fingerprint", rs.Fingerprint(),
		"changed", previous != rs.Fingerprint(),
		"pre_rewrites", len(p.Pre),
		"post_rewrites", len(p.Post),
	)
	return nil
}

// Start watches until ctx is cancelled. Bursts of events are coalesced into
// one reload.
func (w *RuleWatcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rule watcher: %w", err)
	}
	defer fw.Close()

	watched := 0
	for _, dir := range w.dirs() {
		if err := fw.Add(dir); err != nil {
			slog.Warn("[RuleWatcher] Cannot watch directory", "dir", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		slog.Warn("[RuleWatcher] Nothing to watch, hot reload disabled")
		<-ctx.Done()
		return nil
	}
	slog.Info("[RuleWatcher] Watching rule files", "rules_dir", w.rulesDir, "rewrite_file", w.rewriteFile)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				reload = time.After(w.delay)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[RuleWatcher] Watch error", "error", err)
		case <-reload:
			reload = nil
			if err := w.Reload(); err != nil {
				slog.Error("[RuleWatcher] Reload failed, keeping previous rules", "error", err)
			}
		}
	}
}

func (w *RuleWatcher) dirs() []string {
	var out []string
	if info, err := os.Stat(w.rulesDir); err == nil && info.IsDir() {
		out = append(out, filepath.Clean(w.rulesDir))
	}
	if w.rewriteFile != "" {
		dir := filepath.Dir(filepath.Clean(w.rewriteFile))
		if len(out) == 0 || out[0] != dir {
			out = append(out, dir)
		}
	}
	return out
}

func (w *RuleWatcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	if w.rewriteFile != "" && name == filepath.Clean(w.rewriteFile) {
		return true
	}
	return filepath.Dir(name) == filepath.Clean(w.rulesDir) && core.IsRuleFile(name)
}
