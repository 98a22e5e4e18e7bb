package engine

import (
	"log"
	"sync"

	"printbridge/store"
)

// journal performs store writes off the caller's goroutine so the link
// read loop and HTTP handlers never wait on SQLite.
type journal struct {
	db      *store.DB
	ch      chan func(*store.DB) error
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	started bool
	stopped bool
}

func newJournal(db *store.DB, depth int) *journal {
	return &journal{
		db:   db,
		ch:   make(chan func(*store.DB) error, depth),
		done: make(chan struct{}),
	}
}

func (j *journal) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started || j.stopped {
		return
	}
	j.started = true
	go func() {
		defer close(j.done)
		for fn := range j.ch {
			if err := fn(j.db); err != nil {
				log.Printf("journal: %v", err)
			}
		}
	}()
}

// submit queues fn, dropping it if the journal is backed up or stopped.
func (j *journal) submit(fn func(*store.DB) error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.stopped {
		return
	}
	select {
	case j.ch <- fn:
	default:
		log.Printf("journal: queue full, dropping entry")
	}
}

// stop drains pending writes and waits for the worker to exit.
func (j *journal) stop() {
	j.once.Do(func() {
		j.mu.Lock()
		j.stopped = true
		close(j.ch)
		started := j.started
		j.mu.Unlock()
		if started {
			<-j.done
		}
	})
}

func (e *Engine) recordLinkEvent(kind, detail string) {
	if e.journal == nil {
		return
	}
	e.journal.submit(func(db *store.DB) error {
		return db.RecordLinkEvent(kind, detail)
	})
}

func (e *Engine) recordCommand(source, cmd, outcome, errMsg string) {
	if e.journal == nil {
		return
	}
	e.journal.submit(func(db *store.DB) error {
		_, err := db.RecordCommand(source, cmd, outcome, errMsg)
		return err
	})
}
