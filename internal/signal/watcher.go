// Package signal watches the project's .stagehand/signals directory so an
// operator can cancel a running sequence by touching a file.
package signal

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// cancelFile is the signal file name that requests cancellation.
const cancelFile = "cancel"

// pollInterval is the fallback check frequency when no watcher is available.
const pollInterval = 2 * time.Second

// Watcher observes the signals directory of a project and reports when a
// cancel signal appears. Detection uses fsnotify when available and falls
// back to polling otherwise, so a missed filesystem event never strands a
// running sequence.
type Watcher struct {
	signalsDir string

	mu       sync.Mutex
	canceled bool

	watcher    *fsnotify.Watcher
	notify     chan struct{}
	notifyOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
}

// NewWatcher creates a watcher over <projectRoot>/.stagehand/signals,
// creating the directory if needed.
func NewWatcher(projectRoot string) (*Watcher, error) {
	signalsDir := filepath.Join(projectRoot, ".stagehand", "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		signalsDir: signalsDir,
		notify:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - the polling fallback still works.
		log.Printf("[signal] fsnotify unavailable, falling back to polling: %v", err)
		go w.poll()
		return w, nil
	}
	if err := fsw.Add(signalsDir); err != nil {
		fsw.Close()
		log.Printf("[signal] cannot watch %s, falling back to polling: %v", signalsDir, err)
		go w.poll()
		return w, nil
	}

	w.watcher = fsw
	go w.watch()
	return w, nil
}

// Canceled returns a channel that is closed when a cancel signal arrives.
func (w *Watcher) Canceled() <-chan struct{} {
	return w.notify
}

// IsCanceled reports whether a cancel signal has been received. It also
// checks the file directly in case the watcher missed the event.
func (w *Watcher) IsCanceled() bool {
	if _, err := os.Stat(filepath.Join(w.signalsDir, cancelFile)); err == nil {
		w.markCanceled()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canceled
}

// Cancel creates the cancel signal file. Any process watching the same
// project picks it up.
func (w *Watcher) Cancel() error {
	path := filepath.Join(w.signalsDir, cancelFile)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the cancel signal file and resets the watcher state.
func (w *Watcher) Clear() {
	w.mu.Lock()
	w.canceled = false
	w.mu.Unlock()
	os.Remove(filepath.Join(w.signalsDir, cancelFile))
}

// Close shuts down the watcher.
func (w *Watcher) Close() {
	w.doneOnce.Do(func() { close(w.done) })
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// markCanceled records the signal and closes the notify channel. The channel
// close is one-shot for the watcher's lifetime even if Clear resets the flag.
func (w *Watcher) markCanceled() {
	w.mu.Lock()
	w.canceled = true
	w.mu.Unlock()
	w.notifyOnce.Do(func() { close(w.notify) })
}

// watch monitors the signals directory for the cancel file.
func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != cancelFile {
				continue
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				log.Printf("[signal] cancel requested via %s", event.Name)
				w.markCanceled()
			}
		case <-w.watcher.Errors:
			// Ignore errors, keep watching.
		}
	}
}

// poll is the fallback detection loop when fsnotify is unavailable.
func (w *Watcher) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := os.Stat(filepath.Join(w.signalsDir, cancelFile)); err == nil {
				log.Printf("[signal] cancel requested via %s", filepath.Join(w.signalsDir, cancelFile))
				w.markCanceled()
				return
			}
		}
	}
}
