package correlation

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Response is the finalized Target-room answer for an asset.
type Response struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ResponseLog keeps the last finalized answer per asset for audit and debugging.
type ResponseLog struct {
	mu       sync.RWMutex
	entries  map[string]Response
	onChange func(context.Context)
}

func NewResponseLog() *ResponseLog {
	return &ResponseLog{entries: make(map[string]Response)}
}

func (l *ResponseLog) Name() string { return "responses" }

func (l *ResponseLog) OnChange(fn func(context.Context)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *ResponseLog) changed(ctx context.Context) {
	l.mu.RLock()
	fn := l.onChange
	l.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

func (l *ResponseLog) Put(ctx context.Context, assetID, text string) {
	l.mu.Lock()
	l.entries[assetID] = Response{Text: text, At: time.Now().UTC()}
	l.mu.Unlock()
	l.changed(ctx)
}

func (l *ResponseLog) Get(assetID string) (Response, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.entries[assetID]
	return r, ok
}

// Remove deletes the answers of the given assets.
func (l *ResponseLog) Remove(ctx context.Context, assetIDs ...string) int {
	l.mu.Lock()
	n := 0
	for _, id := range assetIDs {
		if _, ok := l.entries[id]; ok {
			delete(l.entries, id)
			n++
		}
	}
	l.mu.Unlock()
	if n > 0 {
		l.changed(ctx)
	}
	return n
}

func (l *ResponseLog) Clear(ctx context.Context) {
	l.mu.Lock()
	l.entries = make(map[string]Response)
	l.mu.Unlock()
	l.changed(ctx)
}

func (l *ResponseLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *ResponseLog) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.entries)
}

func (l *ResponseLog) Restore(body []byte) error {
	entries := make(map[string]Response)
	if err := json.Unmarshal(body, &entries); err != nil {
		return err
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}
