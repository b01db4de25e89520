package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var ErrNoSnapshot = errors.New("no snapshot stored")

// Collection is an in-memory structure that is written and read back as a whole.
type Collection interface {
	Name() string
	Snapshot() ([]byte, error)
	Restore(body []byte) error
}

// Observable collections report their own mutations so they can be written through.
type Observable interface {
	Collection
	OnChange(fn func(ctx context.Context))
}

// Backend stores snapshot bodies by collection name.
type Backend interface {
	Save(ctx context.Context, name string, body []byte) error
	// Load returns ErrNoSnapshot when nothing has been saved under name.
	Load(ctx context.Context, name string) ([]byte, error)
	Close() error
}

type entry struct {
	mu  sync.Mutex
	col Collection
}

// Coordinator owns the write-through persistence of every registered collection.
type Coordinator struct {
	backend Backend
	log     *slog.Logger

	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

func NewCoordinator(backend Backend, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Coordinator{
		backend: backend,
		log:     logger.With("component", "persist"),
		entries: make(map[string]*entry),
	}
}

// Register adds collections. Observable collections are flushed after each of their mutations.
func (c *Coordinator) Register(cols ...Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, col := range cols {
		name := col.Name()
		if _, ok := c.entries[name]; !ok {
			c.order = append(c.order, name)
		}
		c.entries[name] = &entry{col: col}
		if obs, ok := col.(Observable); ok {
			obs.OnChange(c.hook(name))
		}
	}
}

func (c *Coordinator) hook(name string) func(context.Context) {
	return func(ctx context.Context) {
		if err := c.Flush(ctx, name); err != nil {
			c.log.Error("snapshot write failed", slog.String("collection", name), slog.Any("error", err))
		}
	}
}

// Restore loads every registered collection. Collections without a snapshot keep their state.
func (c *Coordinator) Restore(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range c.order {
		body, err := c.backend.Load(ctx, name)
		if errors.Is(err, ErrNoSnapshot) {
			c.log.Info("no snapshot, starting empty", slog.String("collection", name))
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		if err := c.entries[name].col.Restore(body); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		c.log.Info("snapshot restored", slog.String("collection", name), slog.Int("bytes", len(body)))
	}
	return nil
}

// Flush writes the current state of one collection. Writes of the same collection are
// serialized and the snapshot is taken under that lock, so the last write is never stale.
func (c *Coordinator) Flush(ctx context.Context, name string) error {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown collection %q", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	body, err := e.col.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", name, err)
	}
	return c.backend.Save(ctx, name, body)
}

func (c *Coordinator) FlushAll(ctx context.Context) error {
	c.mu.RLock()
	names := append([]string(nil), c.order...)
	c.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := c.Flush(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
