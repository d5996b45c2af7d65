package search

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
// Index writes go through one worker so Meilisearch sees them in call order.
type Service struct {
	meili *Meili
	sql   *SQLSearch

	writes   chan indexWrite
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type indexWrite struct {
	desc string
	run  func() error
	done chan struct{}
}

const writeQueueSize = 1024

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured. The index is rebuilt from SQL whenever Meilisearch
// recovers, since writes are skipped while it is down.
func NewService(meili *Meili, sql *SQLSearch) *Service {
	s := &Service{meili: meili, sql: sql, stop: make(chan struct{})}
	if meili != nil {
		s.writes = make(chan indexWrite, writeQueueSize)
		s.wg.Add(1)
		go s.writeLoop()
		meili.OnRecover(func() { s.ReindexAll(context.Background()) })
	}
	return s
}

// Close stops the index writer. Queued writes are dropped.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Service) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case w := <-s.writes:
			if w.run != nil {
				if err := w.run(); err != nil {
					log.Printf("search: %s: %v", w.desc, err)
					// Force a probe so recovery rebuilds the index.
					s.meili.markDown()
				}
			}
			if w.done != nil {
				close(w.done)
			}
		}
	}
}

func (s *Service) enqueue(w indexWrite) bool {
	select {
	case s.writes <- w:
		return true
	case <-s.stop:
		return false
	}
}

// flush waits until every write queued before it has run.
func (s *Service) flush() {
	if s.writes == nil {
		return
	}
	done := make(chan struct{})
	if s.enqueue(indexWrite{done: done}) {
		select {
		case <-done:
		case <-s.stop:
		}
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to sql: %v", err)
	}

	if s.sql == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.sql.Search(ctx, q)
	if err != nil {
		log.Printf("search: sql error: %v", err)
		return Response{Results: []Result{}, Query: q.Text, Backend: "sql"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "sql"}
}

// IndexMessage queues a message for Meilisearch.
func (s *Service) IndexMessage(record MessageRecord) {
	if !s.meiliReady() {
		return
	}
	s.enqueue(indexWrite{
		desc: fmt.Sprintf("index message %d", record.ID),
		run:  func() error { return s.meili.IndexMessages([]MessageRecord{record}) },
	})
}

// DeleteMessage queues removal of a message from Meilisearch.
func (s *Service) DeleteMessage(id int64) {
	if !s.meiliReady() {
		return
	}
	s.enqueue(indexWrite{
		desc: fmt.Sprintf("delete message %d", id),
		run:  func() error { return s.meili.DeleteMessage(id) },
	})
}

// ReindexAll queues a rebuild of the Meilisearch index from SQL. Messages
// are loaded when the rebuild runs, so writes queued earlier are already
// reflected in the database it reads.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.meiliReady() || s.sql == nil {
		return
	}
	s.enqueue(indexWrite{
		desc: "reindex messages",
		run: func() error {
			records, err := s.sql.LoadAllRecords(ctx)
			if err != nil {
				return fmt.Errorf("load messages: %w", err)
			}
			return s.meili.ReplaceMessages(records)
		},
	})
}

func (s *Service) meiliReady() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
