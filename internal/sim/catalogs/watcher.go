package catalogs

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload is emitted by Watcher after the content directory changed.
type Reload struct {
	Ruleset *Ruleset
	Err     error

	// DefinitionsTouched is set when a file outside the ruleset changed
	// (objectives, categories, task templates, opportunity packs). Those are
	// only read at startup.
	DefinitionsTouched bool
}

// Watcher reloads the ruleset when template files change.
type Watcher struct {
	Dir     string
	Reloads <-chan Reload

	reloads  chan Reload
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

func NewWatcher(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan Reload, 4)
	return &Watcher{
		Dir:      dir,
		Reloads:  ch,
		reloads:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: 150 * time.Millisecond,
	}, nil
}

func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.Dir); err != nil {
		return err
	}
	// The opportunities directory is optional.
	_ = w.watcher.Add(filepath.Join(w.Dir, "opportunities"))
	go w.loop()
	return nil
}

func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
	close(w.reloads)
}

func (w *Watcher) loop() {
	defer close(w.done)

	var (
		dirty   bool
		touched bool
		last    time.Time
	)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			switch kind := classify(w.Dir, event.Name); kind {
			case fileRuleset:
				dirty = true
				last = time.Now()
			case fileDefinitions:
				touched = true
				dirty = true
				last = time.Now()
			}

		case <-ticker.C:
			if !dirty || time.Since(last) < w.debounce {
				continue
			}
			rs, err := LoadRuleset(w.Dir)
			r := Reload{Ruleset: rs, Err: err, DefinitionsTouched: touched}
			dirty, touched = false, false
			select {
			case w.reloads <- r:
			default:
				// Consumer is behind; the next change triggers another reload.
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

type fileKind int

const (
	fileOther fileKind = iota
	fileRuleset
	fileDefinitions
)

func classify(dir, path string) fileKind {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return fileOther
	}
	switch rel {
	case "things.json", "terrains.json", "groups.json":
		return fileRuleset
	case "task_templates.json", "categories.json", "objectives.json":
		return fileDefinitions
	}
	if filepath.Dir(rel) == "opportunities" && IsOpportunityFile(filepath.Base(rel)) {
		return fileDefinitions
	}
	return fileOther
}
