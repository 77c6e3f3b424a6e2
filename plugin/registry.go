package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// DefaultName is the identifier every installation must provide; resolution
// of an unknown or broken identifier falls back to it.
const DefaultName = "default"

// Registry maps plugin identifiers to factories and hands out ready provider
// instances. Registration happens once at startup; after that the registry is
// read-only, so concurrent runs can resolve against it safely.
type Registry struct {
	logger    *slog.Logger
	root      string
	factories map[string]Factory
}

// NewRegistry creates a registry rooted at the plugin directory tree. The
// root is only scanned for configuration directories; implementations are
// compiled in and registered explicitly.
func NewRegistry(logger *slog.Logger, root string) *Registry {
	return &Registry{
		logger:    logger.With("component", "plugin-registry"),
		root:      root,
		factories: make(map[string]Factory),
	}
}

// Register admits a factory under the given identifier. Registering the same
// identifier twice is rejected so resolution stays deterministic.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("register plugin: empty identifier")
	}
	if factory == nil {
		return fmt.Errorf("register plugin %q: nil factory", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register plugin %q: already registered", name)
	}
	r.factories[name] = factory
	r.logger.Debug("registered plugin", "plugin", name)
	return nil
}

// Discover scans the registry root for plugin directories and reports what it
// finds. A directory without a registered implementation is skipped with a
// logged reason; it never fails the caller. Discovery is read-only so
// concurrent runs sharing the root cannot corrupt each other.
func (r *Registry) Discover() {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		r.logger.Warn("plugins directory not readable", "root", r.root, "error", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := r.factories[name]; ok {
			r.logger.Debug("discovered plugin directory", "plugin", name)
			continue
		}
		r.logger.Warn("skipping plugin directory with no registered implementation", "plugin", name)
	}
}

// Names returns the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve instantiates the provider registered under name, bound to the given
// workspace. An unregistered identifier or a failing factory falls back to
// "default"; if "default" itself is missing or fails, resolution fails and is
// not retried, since the pipeline cannot proceed without a background source.
func (r *Registry) Resolve(name, workspace string) (*Instance, error) {
	if name == "" {
		name = DefaultName
	}

	factory, ok := r.factories[name]
	if !ok {
		if name == DefaultName {
			return nil, fmt.Errorf("plugin %q is not registered", DefaultName)
		}
		r.logger.Warn("plugin not registered, falling back to default", "plugin", name)
		return r.Resolve(DefaultName, workspace)
	}

	provider, err := factory(workspace, filepath.Join(r.root, name))
	if err != nil {
		if name == DefaultName {
			return nil, fmt.Errorf("instantiate plugin %q: %w", name, err)
		}
		r.logger.Warn("plugin failed to instantiate, falling back to default", "plugin", name, "error", err)
		return r.Resolve(DefaultName, workspace)
	}

	r.logger.Info("resolved plugin", "plugin", name)
	return &Instance{Name: name, provider: provider}, nil
}

// Instance is a resolved, run-scoped provider. Failures past this point are
// execution failures and are never recovered by fallback.
type Instance struct {
	Name     string
	provider Provider
}

// GetMedia invokes the provider and normalizes its result.
func (in *Instance) GetMedia(ctx context.Context, snapshot map[string]any) (Result, error) {
	result, err := in.provider.GetMedia(ctx, snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: %w", in.Name, err)
	}
	normalized, err := result.normalize()
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: %w", in.Name, err)
	}
	return normalized, nil
}

// PromptContext returns the provider's steering text for the topic, or ""
// when the provider does not implement the optional capability.
func (in *Instance) PromptContext(topic string) string {
	if pc, ok := in.provider.(PromptContexter); ok {
		return pc.PromptContext(topic)
	}
	return ""
}
