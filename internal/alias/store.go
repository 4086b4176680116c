package alias

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

// Store owns the alias configuration and its product reverse index.
// Reads take the shared lock; AddAlias mutates configuration and index under
// the exclusive lock; Save is serialized separately and writes a snapshot.
type Store struct {
	source Source
	logger *observability.Logger
	now    func() time.Time

	mu          sync.RWMutex
	config      *Configuration
	index       *ReverseIndex
	loadErr     error
	diagnostics []string

	saveMu      sync.Mutex
	lastWritten *Configuration
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithLogger sets the store logger
func WithLogger(logger *observability.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source used for last_updated
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over source holding an empty configuration until Load is called
func NewStore(source Source, opts ...StoreOption) *Store {
	cfg := NewEmptyConfiguration()
	s := &Store{
		source: source,
		logger: observability.NewLogger("alias-store"),
		now:    time.Now,
		config: cfg,
		index:  NewReverseIndex(cfg.Categories[CategoryProduct]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromConfiguration creates a store already holding cfg; useful for
// callers that assemble aliases in code
func NewStoreFromConfiguration(source Source, cfg *Configuration, opts ...StoreOption) *Store {
	s := NewStore(source, opts...)
	s.install(cfg.Clone(), nil, nil)
	return s
}

// SourceName returns the name of the backing source
func (s *Store) SourceName() string {
	return s.source.Name()
}

// Load reads the source. A missing document returns a CONFIG_NOT_FOUND error
// and leaves the store empty. Any other read or decode failure degrades to an
// empty configuration, is recorded in LoadError, and is not returned.
func (s *Store) Load(ctx context.Context) error {
	cfg, diagnostics, err := s.read(ctx)
	observability.GetGlobalMetrics().Inc(observability.MetricAliasLoads, nil)

	switch {
	case errors.Is(err, ErrSourceNotFound):
		notFound := apperrors.NewConfigNotFoundError(s.source.Name())
		s.install(NewEmptyConfiguration(), nil, notFound)
		s.logger.Warn(ctx, "Alias configuration not found", map[string]interface{}{
			"source": s.source.Name(),
		})
		return notFound

	case err != nil:
		malformed := apperrors.NewConfigMalformedError(err, s.source.Name())
		s.install(NewEmptyConfiguration(), nil, malformed)
		observability.GetGlobalMetrics().Inc(observability.MetricAliasLoadErrors, nil)
		s.logger.Error(ctx, "Alias configuration unreadable, continuing with empty categories", err, map[string]interface{}{
			"source": s.source.Name(),
		})
		return nil
	}

	s.install(cfg, diagnostics, nil)
	s.logger.Info(ctx, "Alias configuration loaded", map[string]interface{}{
		"source":      s.source.Name(),
		"aliases":     cfg.AliasCount(),
		"diagnostics": len(diagnostics),
	})
	return nil
}

// Reload re-reads the source for hot reload. Unlike Load, a failed read keeps
// the current configuration and returns the error. A document identical to the
// store's own last write is skipped.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	cfg, diagnostics, err := s.read(ctx)
	if errors.Is(err, ErrSourceNotFound) {
		return false, apperrors.NewConfigNotFoundError(s.source.Name())
	}
	if err != nil {
		malformed := apperrors.NewConfigMalformedError(err, s.source.Name())
		observability.GetGlobalMetrics().Inc(observability.MetricAliasLoadErrors, nil)
		s.mu.Lock()
		s.loadErr = malformed
		s.mu.Unlock()
		return false, malformed
	}

	s.saveMu.Lock()
	own := s.lastWritten != nil &&
		reflect.DeepEqual(s.lastWritten.Categories, cfg.Categories) &&
		s.lastWritten.Metadata["last_updated"] == cfg.Metadata["last_updated"]
	s.saveMu.Unlock()
	if own {
		return false, nil
	}

	s.install(cfg, diagnostics, nil)
	observability.GetGlobalMetrics().Inc(observability.MetricAliasReloads, nil)
	s.logger.Info(ctx, "Alias configuration reloaded", map[string]interface{}{
		"source":  s.source.Name(),
		"aliases": cfg.AliasCount(),
	})
	return true, nil
}

func (s *Store) read(ctx context.Context) (*Configuration, []string, error) {
	doc, err := s.source.Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	return Decode(doc)
}

func (s *Store) install(cfg *Configuration, diagnostics []string, loadErr error) {
	index := NewReverseIndex(cfg.Categories[CategoryProduct])

	s.mu.Lock()
	s.config = cfg
	s.index = index
	s.diagnostics = diagnostics
	s.loadErr = loadErr
	s.mu.Unlock()

	observability.GetGlobalMetrics().Set(observability.MetricAliasCount, float64(cfg.AliasCount()), nil)
}

// LoadError returns the failure recorded by the last load, if any
func (s *Store) LoadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Diagnostics returns non-fatal findings from the last successful load
func (s *Store) Diagnostics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.diagnostics...)
}

// Category returns a copy of one category; empty when absent
func (s *Store) Category(name string) map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCategory(s.config.Categories[name])
}

// Metadata returns a copy of the configuration metadata; empty when absent
func (s *Store) Metadata() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMetadata(s.config.Metadata)
}

// Snapshot returns a deep copy of the whole configuration
func (s *Store) Snapshot() *Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// AliasCount returns the number of aliases across all categories
func (s *Store) AliasCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.AliasCount()
}

// AliasesForProduct returns the sorted alias keys resolving to product
func (s *Store) AliasesForProduct(product string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Aliases(product)
}

// AddAlias stores alias (lowercased) with targets in category, replacing any
// previous entry for the same key. When persist is set the whole configuration
// is saved afterwards; a save failure is returned but the in-memory change stays.
func (s *Store) AddAlias(ctx context.Context, category, alias string, targets []string, persist bool) error {
	if !IsKnownCategory(category) {
		return apperrors.NewUnknownCategoryError(category, KnownCategories)
	}

	key := strings.ToLower(strings.TrimSpace(alias))
	if key == "" {
		return apperrors.NewInvalidInputError("alias", "must not be empty")
	}
	if len(targets) == 0 {
		return apperrors.NewInvalidInputError("targets", "at least one target is required")
	}
	cleaned := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			return apperrors.NewInvalidInputError("targets", "targets must not be empty strings")
		}
		cleaned = append(cleaned, t)
	}

	s.mu.Lock()
	aliases, ok := s.config.Categories[category]
	if !ok {
		aliases = make(map[string][]string)
		s.config.Categories[category] = aliases
	}
	previous := aliases[key]
	aliases[key] = cleaned
	if category == CategoryProduct {
		s.index.Replace(key, previous, cleaned)
	}
	count := s.config.AliasCount()
	s.mu.Unlock()

	metrics := observability.GetGlobalMetrics()
	metrics.Inc(observability.MetricAliasAdds, map[string]string{"category": category})
	metrics.Set(observability.MetricAliasCount, float64(count), nil)
	s.logger.Info(ctx, "Alias added", map[string]interface{}{
		"category": category,
		"alias":    key,
		"targets":  cleaned,
		"replaced": previous != nil,
	})

	if persist {
		return s.Save(ctx)
	}
	return nil
}

// DefaultHistoryLimit bounds History when the caller passes no limit
const DefaultHistoryLimit = 10

// History lists earlier documents archived by the source, newest first.
// Sources without an archive return ErrHistoryUnsupported.
func (s *Store) History(ctx context.Context, limit int) ([]Revision, error) {
	hs, ok := s.source.(HistorySource)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return hs.History(ctx, limit)
}

// Save writes the whole configuration, with last_updated set to the current
// time, to the source. The in-memory configuration is not modified. Save is
// refused while the source document is malformed, since the store then holds
// a fallback rather than the document's contents.
func (s *Store) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if loadErr := s.LoadError(); apperrors.HasCode(loadErr, apperrors.ErrCodeConfigMalformed) {
		observability.RecordAliasSave(s.source.Name(), loadErr)
		s.logger.Warn(ctx, "Refusing to overwrite malformed alias configuration", map[string]interface{}{
			"source": s.source.Name(),
			"error":  loadErr.Error(),
		})
		return apperrors.NewPersistError(loadErr, s.source.Name()).
			WithSuggestion("Fix the alias document and reload it before saving").
			WithMetadata("retryable", false)
	}

	snapshot := s.Snapshot()
	snapshot.Metadata["last_updated"] = s.now().UTC().Format(time.RFC3339)

	err := s.source.Write(ctx, snapshot.Document())
	observability.RecordAliasSave(s.source.Name(), err)
	if err != nil {
		s.logger.Error(ctx, "Failed to save alias configuration", err, map[string]interface{}{
			"source": s.source.Name(),
		})
		return apperrors.NewPersistError(err, s.source.Name())
	}

	s.lastWritten = snapshot
	s.logger.Info(ctx, "Alias configuration saved", map[string]interface{}{
		"source":  s.source.Name(),
		"aliases": snapshot.AliasCount(),
	})
	return nil
}

// Validate reports empty categories, aliases without usable targets, missing
// metadata fields and load problems. It never fails.
func (s *Store) Validate() []string {
	s.mu.RLock()
	cfg := s.config
	loadErr := s.loadErr
	diagnostics := append([]string(nil), s.diagnostics...)
	var issues []string

	if loadErr != nil {
		issues = append(issues, fmt.Sprintf("Configuration failed to load: %v", loadErr))
	}

	for _, name := range cfg.CategoryNames() {
		aliases := cfg.Categories[name]
		if len(aliases) == 0 {
			issues = append(issues, fmt.Sprintf("Category '%s' is empty", name))
			continue
		}
		keys := make([]string, 0, len(aliases))
		for k := range aliases {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			targets := aliases[k]
			if len(targets) == 0 {
				issues = append(issues, fmt.Sprintf("Alias '%s' in category '%s' has no targets", k, name))
				continue
			}
			for _, t := range targets {
				if strings.TrimSpace(t) == "" {
					issues = append(issues, fmt.Sprintf("Alias '%s' in category '%s' has an empty target", k, name))
					break
				}
			}
		}
	}

	for _, field := range RequiredMetadata {
		if _, ok := cfg.Metadata[field]; !ok {
			issues = append(issues, fmt.Sprintf("Missing metadata field: %s", field))
		}
	}
	s.mu.RUnlock()

	return append(issues, diagnostics...)
}
