// Package statemirror publishes the live printer snapshot to Redis so
// other services can read current state without subscribing.
package statemirror

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"printbridge/printer"
)

// SnapshotStore persists the latest snapshot.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, snap printer.Snapshot) error
}

// Mirror writes the snapshot at most once per interval, and only after
// MarkDirty has been called since the last successful write.
type Mirror struct {
	store    SnapshotStore
	source   func() printer.Snapshot
	key      string
	interval time.Duration

	dirty   atomic.Bool
	failing bool
	saves   atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewMirror(store SnapshotStore, source func() printer.Snapshot, key string, interval time.Duration) *Mirror {
	if interval <= 0 {
		interval = time.Second
	}
	m := &Mirror{
		store:    store,
		source:   source,
		key:      key,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.dirty.Store(true)
	return m
}

// MarkDirty flags the snapshot for the next write. Safe to call from the
// ingestion path.
func (m *Mirror) MarkDirty() { m.dirty.Store(true) }

// OnEvent is an engine.SubscriberFunc that marks the mirror dirty.
func (m *Mirror) OnEvent(printer.Event) { m.MarkDirty() }

func (m *Mirror) Start() {
	go m.loop()
}

// Stop halts the loop after one final flush.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Saves returns the number of successful writes.
func (m *Mirror) Saves() uint64 { return m.saves.Load() }

func (m *Mirror) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			m.flush()
			return
		case <-ticker.C:
			m.flush()
		}
	}
}

func (m *Mirror) flush() {
	if !m.dirty.Swap(false) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	if err := m.store.SaveSnapshot(ctx, m.key, m.source()); err != nil {
		m.dirty.Store(true)
		if !m.failing {
			m.failing = true
			log.Printf("statemirror: save %s: %v", m.key, err)
		}
		return
	}
	if m.failing {
		m.failing = false
		log.Printf("statemirror: save %s recovered", m.key)
	}
	m.saves.Add(1)
}
