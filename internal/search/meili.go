package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxMessages = "warbler_messages"

const defaultProbeInterval = 10 * time.Second

// Meili searches and indexes messages in Meilisearch.
type Meili struct {
	client   meili.ServiceManager
	url      string
	interval time.Duration
	healthy  atomic.Bool
	stop     chan struct{}

	// onRecover runs after the server comes back and the index is configured.
	onRecover atomic.Value
}

// NewMeili connects to Meilisearch and configures the messages index. An
// unreachable server leaves the client unhealthy and probing.
func NewMeili(url, apiKey string) *Meili {
	return newMeili(url, apiKey, defaultProbeInterval)
}

func newMeili(url, apiKey string, interval time.Duration) *Meili {
	m := &Meili{
		client:   meili.New(url, meili.WithAPIKey(apiKey)),
		url:      url,
		interval: interval,
		stop:     make(chan struct{}),
	}
	if !m.probe() {
		log.Printf("search: meilisearch unavailable at %s", url)
	}
	go m.monitor()
	return m
}

// OnRecover registers fn to run whenever Meilisearch becomes reachable
// again after being down.
func (m *Meili) OnRecover(fn func()) {
	m.onRecover.Store(fn)
}

// probe checks the server and reports whether it is healthy. The index is
// configured on every unhealthy to healthy transition.
func (m *Meili) probe() bool {
	_, err := m.client.Health()
	up := err == nil
	if m.healthy.Swap(up) || !up {
		return up
	}
	m.ensureIndex()
	return true
}

func (m *Meili) monitor() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			wasUp := m.healthy.Load()
			if m.probe() && !wasUp {
				log.Printf("search: meilisearch at %s recovered", m.url)
				if fn, _ := m.onRecover.Load().(func()); fn != nil {
					fn()
				}
			}
		}
	}
}

func (m *Meili) ensureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxMessages, PrimaryKey: "id"}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxMessages, err)
	}

	index := m.client.Index(idxMessages)
	filterable := []interface{}{"userId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: filterable attributes for %s: %v", idxMessages, err)
	}
	searchable := []string{"text", "username"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: searchable attributes for %s: %v", idxMessages, err)
	}
	sortable := []string{"timestamp"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: sortable attributes for %s: %v", idxMessages, err)
	}
}

// Close stops the health monitor.
func (m *Meili) Close() {
	close(m.stop)
}

// markDown flags the server unhealthy until the next successful probe.
func (m *Meili) markDown() {
	m.healthy.Store(false)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.Index(idxMessages).Search(q.Text, &meili.SearchRequest{
		Limit:  int64(normalizeLimit(q.Limit)),
		Offset: int64(q.Offset),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		MessageID: decodeInt64(hit, "id"),
		UserID:    decodeInt64(hit, "userId"),
		Username:  decodeString(hit, "username"),
		Text:      decodeString(hit, "text"),
	}
	if ts := decodeInt64(hit, "timestamp"); ts != 0 {
		r.Timestamp = time.Unix(ts, 0).UTC()
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt64(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// ReplaceMessages clears the index and adds records. Meilisearch runs the
// two tasks in order.
func (m *Meili) ReplaceMessages(records []MessageRecord) error {
	if _, err := m.client.Index(idxMessages).DeleteAllDocuments(nil); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return m.IndexMessages(records)
}

func (m *Meili) IndexMessages(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMessages).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteMessage(id int64) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}
