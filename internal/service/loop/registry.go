package loop

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-think/backend/internal/errs"
)

// Registry 按房间 ID 保存运行中的引擎，供 HTTP 与 WebSocket 层查找。
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Add registers e under a fresh id.
func (r *Registry) Add(e *Engine) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.engines[id] = e
	r.mu.Unlock()
	return id
}

// Get looks up a room.
func (r *Registry) Get(id string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, errs.ErrNotFound)
	}
	return e, nil
}

// Remove closes and forgets a room.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.engines[id]
	delete(r.engines, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("room %s: %w", id, errs.ErrNotFound)
	}
	e.Close()
	return nil
}

// Close 关闭全部房间，服务退出时调用。
func (r *Registry) Close() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()
	for _, e := range engines {
		e.Close()
	}
}

// Transcript flattens history into "Speaker: content" blocks.
func Transcript(history []Turn) string {
	parts := make([]string, 0, len(history))
	for _, turn := range history {
		parts = append(parts, turn.Speaker+": "+turn.Content)
	}
	return strings.Join(parts, "\n\n")
}
