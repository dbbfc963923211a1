// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracedb stores kernel events in a MySQL database for offline
// analysis.  A Sink is a ktrace.Listener: it copies each event into a
// bounded buffer, never blocking the reporting subsystem, and a background
// goroutine writes the buffered events in multi-row inserts.
package tracedb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/ktrace"
)

// CreateTableSuffix is appended to CREATE TABLE statements.
const CreateTableSuffix = "CHARACTER SET utf8mb4 COLLATE utf8mb4_general_ci"

const columns = "time, kind, cpu, thread, name, priority, previous, previous_name, lock_addr, lock_name, writer"

const numColumns = 11

// Execer is the subset of *sql.DB a Sink uses.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CreateTable creates table if it does not exist.
func CreateTable(ctx context.Context, db Execer, table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	_, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+table+` (
  id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
  time DATETIME(6) NOT NULL,
  kind VARCHAR(16) NOT NULL,
  cpu INT NOT NULL,
  thread BIGINT NOT NULL,
  name VARCHAR(255) NOT NULL,
  priority INT NOT NULL,
  previous BIGINT NOT NULL,
  previous_name VARCHAR(255) NOT NULL,
  lock_addr BIGINT UNSIGNED NOT NULL,
  lock_name VARCHAR(255) NOT NULL,
  writer BOOL NOT NULL,
  INDEX (time),
  INDEX (thread)
) `+CreateTableSuffix)
	if err != nil {
		return fmt.Errorf("failed creating table %q: %v", table, err)
	}
	return nil
}

// Options configure a Sink.
type Options struct {
	Table         string        // defaults to DefaultTable
	BatchSize     int           // events per insert, defaults to 256
	FlushInterval time.Duration // longest an event waits to be written, defaults to 1s
	BufferSize    int           // events buffered before new ones are dropped, defaults to 16 * BatchSize
}

func (o Options) withDefaults() Options {
	if len(o.Table) == 0 {
		o.Table = DefaultTable
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 16 * o.BatchSize
	}
	return o
}

// Sink writes kernel events to a database.
type Sink struct {
	db     Execer
	opts   Options
	events chan ktrace.Event
	flush  chan chan struct{}
	done   chan struct{}

	closeMu sync.RWMutex // guards closed and the close of events
	closed  bool

	written atomic.Uint64
	dropped atomic.Uint64
	mu      sync.Mutex
	lastErr error
}

// NewSink returns a Sink writing to db and starts its writer.  The sink
// receives events once added with ktrace.Add.
func NewSink(db Execer, opts Options) (*Sink, error) {
	opts = opts.withDefaults()
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	s := &Sink{
		db:     db,
		opts:   opts,
		events: make(chan ktrace.Event, opts.BufferSize),
		flush:  make(chan chan struct{}),
		done:   make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

// KernelEvent implements ktrace.Listener.
func (s *Sink) KernelEvent(e *ktrace.Event) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- *e:
	default:
		s.dropped.Add(1)
	}
}

// Flush waits until every event received so far has been written.
func (s *Sink) Flush() {
	ch := make(chan struct{})
	select {
	case s.flush <- ch:
		<-ch
	case <-s.done:
	}
}

// Close writes the remaining buffered events and stops the writer.  Events
// received after Close are counted as dropped.
func (s *Sink) Close() error {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.closeMu.Unlock()
	<-s.done
	return s.Err()
}

// Written returns the number of events written.
func (s *Sink) Written() uint64 { return s.written.Load() }

// Dropped returns the number of events dropped because the buffer was full.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Err returns the most recent write error.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Sink) writer() {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	batch := make([]ktrace.Event, 0, s.opts.BatchSize)
	for {
		select {
		case e, ok := <-s.events:
			if !ok {
				s.write(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) == s.opts.BatchSize {
				batch = s.write(batch)
			}
		case ch := <-s.flush:
			for drained := false; !drained; {
				select {
				case e, ok := <-s.events:
					if !ok {
						drained = true
						break
					}
					batch = append(batch, e)
					if len(batch) == s.opts.BatchSize {
						batch = s.write(batch)
					}
				default:
					drained = true
				}
			}
			batch = s.write(batch)
			close(ch)
		case <-ticker.C:
			batch = s.write(batch)
		}
	}
}

// write inserts batch and returns it emptied.
func (s *Sink) write(batch []ktrace.Event) []ktrace.Event {
	if len(batch) == 0 {
		return batch
	}
	query, args := insertStatement(s.opts.Table, batch)
	ctx, cancel := context.WithTimeout(context.Background(), 10*s.opts.FlushInterval)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		klog.Errorf("tracedb: failed writing %d events to %s: %v", len(batch), s.opts.Table, err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	} else {
		s.written.Add(uint64(len(batch)))
	}
	return batch[:0]
}

func insertStatement(table string, batch []ktrace.Event) (string, []interface{}) {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", numColumns), ", ") + ")"
	rows := make([]string, len(batch))
	args := make([]interface{}, 0, len(batch)*numColumns)
	for i, e := range batch {
		rows[i] = row
		args = append(args,
			e.Time.UTC(), e.Kind.String(), e.CPU, e.Thread, e.Name, e.Priority,
			e.Previous, e.PreviousName, uint64(e.Lock), e.LockName, e.Writer)
	}
	return "INSERT INTO " + table + " (" + columns + ") VALUES " + strings.Join(rows, ", "), args
}
