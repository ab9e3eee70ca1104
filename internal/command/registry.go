package command

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"vaultbot/internal/domain"
)

// Env bundles the collaborators a handler may touch. Handlers are pure:
// they read the context, produce outbound sends through the transport, and
// optionally mutate configuration through the store. Nothing is cached
// in-process beyond the invocation.
type Env struct {
	Store     domain.MessageStore
	Transport domain.Transport
	Configs   domain.ConfigStore
	Audit     domain.RecoveryLog
	Logger    *slog.Logger
	StartedAt time.Time
}

// HandlerFunc executes one command and returns the reply text.
type HandlerFunc func(ctx context.Context, cc domain.CommandContext, env Env) (string, error)

type entry struct {
	handler HandlerFunc
	help    string
}

// Registry maps command names to handlers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Register adds a handler under name.
func (r *Registry) Register(name, help string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{handler: h, help: help}
	r.logger.Debug("registered command", "name", name)
}

// Get returns the handler for name, or nil.
func (r *Registry) Get(name string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].handler
}

// Names returns registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Help returns the help line for name.
func (r *Registry) Help(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].help
}
