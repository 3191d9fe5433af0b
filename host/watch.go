package host

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"

	"github.com/asjoyner/wormhole/wire"
)

// GlobalEvent is one item on the host's broadcast stream, consumed by
// every connected session's outbound control stream.
type GlobalEvent struct {
	Invalidate *wire.Invalidate
}

// EventStream fans out GlobalEvents to any number of subscribers. A slow
// or gone subscriber never blocks the others: an event its full channel
// cannot take is dropped for that subscriber, which stays subscribed.
type EventStream struct {
	mu   sync.Mutex
	subs map[chan GlobalEvent]struct{}
}

// NewEventStream returns an empty EventStream.
func NewEventStream() *EventStream {
	return &EventStream{subs: map[chan GlobalEvent]struct{}{}}
}

// Subscribe returns a channel that receives every future event, and an
// unsubscribe function the caller must call when done.
func (e *EventStream) Subscribe() (ch <-chan GlobalEvent, unsubscribe func()) {
	c := make(chan GlobalEvent, 16)
	e.mu.Lock()
	e.subs[c] = struct{}{}
	e.mu.Unlock()
	return c, func() {
		e.mu.Lock()
		delete(e.subs, c)
		e.mu.Unlock()
		close(c)
	}
}

func (e *EventStream) publish(ev GlobalEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.subs {
		select {
		case c <- ev:
		default:
			glog.Warningf("host: dropping event for a slow subscriber")
		}
	}
}

// Watcher observes the host's share root for local filesystem changes
// (made by another process, or by the host's own writes) and broadcasts
// Invalidate for the affected inode.
type Watcher struct {
	host *Host
	fsw  *fsnotify.Watcher
}

// NewWatcher starts watching host.Root() and every existing
// subdirectory; fsnotify does not recurse automatically.
func NewWatcher(h *Host) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{host: h, fsw: fsw}
	if err := w.addTree(h.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				glog.Warningf("host: watch %s: %v", path, err)
			}
		}
		return nil
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run processes fsnotify events until the watcher is closed.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			glog.Warningf("host: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel := strings.TrimPrefix(strings.TrimPrefix(ev.Name, w.host.Root()), string(filepath.Separator))
	virtual := "/" + rel

	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				glog.Warningf("host: watch new dir %s: %v", ev.Name, err)
			}
		}
	}

	ino, ok := w.host.inodes.Known(virtual)
	if !ok {
		return
	}
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.host.inodes.Tombstone(ino)
	}
	w.host.events.publish(GlobalEvent{Invalidate: &wire.Invalidate{
		Inodes: []wire.Inode{wire.Inode(ino)},
		Reason: ev.Op.String(),
	}})
}
