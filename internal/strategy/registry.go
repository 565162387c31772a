package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

var (
	// ErrDuplicateStrategy is returned when name+version is already registered.
	ErrDuplicateStrategy = errors.New("strategy already registered")
	// ErrInvalidStrategy is returned for strategies with unusable metadata.
	ErrInvalidStrategy = errors.New("invalid strategy")
	// ErrStrategyNotFound is returned when a lookup misses.
	ErrStrategyNotFound = errors.New("strategy not found")
)

const wildcardErrorType = "*"

// Registry indexes strategies by name, by supported error type and by version. It is safe
// for concurrent registration and lookup.
type Registry struct {
	mu          sync.RWMutex
	strategies  map[string]map[string]Registration
	versions    map[string][]string
	byErrorType map[string]map[string]struct{}
	logger      *slog.Logger
	now         func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		strategies:  make(map[string]map[string]Registration),
		versions:    make(map[string][]string),
		byErrorType: make(map[string]map[string]struct{}),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a strategy under meta. Registering an existing name+version is rejected.
func (r *Registry) Register(s Strategy, meta models.StrategyMetadata) error {
	if s == nil {
		return fmt.Errorf("%w: strategy is nil", ErrInvalidStrategy)
	}
	if meta.Name == "" {
		meta = s.Metadata()
	}
	if strings.TrimSpace(meta.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidStrategy)
	}
	version, err := NormalizeVersion(meta.Version)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidStrategy, meta.Name, err)
	}
	meta.Version = version
	if len(meta.SupportedErrorType) == 0 {
		return fmt.Errorf("%w: %s declares no supported error types", ErrInvalidStrategy, meta.Name)
	}
	if meta.Priority == 0 {
		meta.Priority = 3
	}
	if meta.Priority < 1 || meta.Priority > 5 {
		return fmt.Errorf("%w: %s priority %d outside 1..5", ErrInvalidStrategy, meta.Name, meta.Priority)
	}

	now := r.now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.ModifiedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	byVersion, ok := r.strategies[meta.Name]
	if !ok {
		byVersion = make(map[string]Registration)
		r.strategies[meta.Name] = byVersion
	}
	if _, exists := byVersion[version]; exists {
		return fmt.Errorf("%w: %s@%s", ErrDuplicateStrategy, meta.Name, version)
	}
	byVersion[version] = Registration{Strategy: s, Metadata: meta}
	r.addVersionLocked(meta.Name, version)

	for _, errType := range meta.SupportedErrorType {
		key := errorTypeKey(errType)
		names, ok := r.byErrorType[key]
		if !ok {
			names = make(map[string]struct{})
			r.byErrorType[key] = names
		}
		names[meta.Name] = struct{}{}
	}

	r.logger.Debug("strategy registered",
		slog.String("strategy", meta.Name),
		slog.String("version", version),
		slog.Int("priority", meta.Priority),
	)
	return nil
}

// addVersionLocked appends version to the name's version list unless already present.
func (r *Registry) addVersionLocked(name, version string) {
	for _, v := range r.versions[name] {
		if v == version {
			return
		}
	}
	r.versions[name] = append(r.versions[name], version)
}

// IsRegistered reports whether any version of name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies[name]) > 0
}

// GetLatestVersion returns the highest semantic version registered for name, or "".
func (r *Registry) GetLatestVersion(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return latestVersion(r.versions[name])
}

// Versions returns every registered version of name in ascending semantic order.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.versions[name]...)
	sort.Slice(out, func(i, j int) bool {
		return semver.Compare("v"+out[i], "v"+out[j]) < 0
	})
	return out
}

// Get returns the registration for name at version; an empty version selects the latest.
func (r *Registry) Get(name, version string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byVersion, ok := r.strategies[name]
	if !ok || len(byVersion) == 0 {
		return Registration{}, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	if version == "" {
		version = latestVersion(r.versions[name])
	} else if normalized, err := NormalizeVersion(version); err == nil {
		version = normalized
	}
	reg, ok := byVersion[version]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s@%s", ErrStrategyNotFound, name, version)
	}
	return reg, nil
}

// GetStrategiesForErrorType returns the latest version of every strategy supporting
// errorType, ordered by priority (1 first) then name.
func (r *Registry) GetStrategiesForErrorType(errorType string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make(map[string]struct{})
	for name := range r.byErrorType[errorTypeKey(errorType)] {
		names[name] = struct{}{}
	}
	for name := range r.byErrorType[wildcardErrorType] {
		names[name] = struct{}{}
	}

	out := make([]Registration, 0, len(names))
	for name := range names {
		latest := latestVersion(r.versions[name])
		if reg, ok := r.strategies[name][latest]; ok {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metadata.Priority != out[j].Metadata.Priority {
			return out[i].Metadata.Priority < out[j].Metadata.Priority
		}
		return out[i].Metadata.Name < out[j].Metadata.Name
	})
	return out
}

// Names returns every registered strategy name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NormalizeVersion validates a semantic version and returns it without the "v" prefix.
func NormalizeVersion(version string) (string, error) {
	v := strings.TrimSpace(version)
	if v == "" {
		return "", errors.New("version is required")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("version %q is not a semantic version", version)
	}
	return strings.TrimPrefix(semver.Canonical(v), "v"), nil
}

func latestVersion(versions []string) string {
	latest := ""
	for _, v := range versions {
		if latest == "" || semver.Compare("v"+v, "v"+latest) > 0 {
			latest = v
		}
	}
	return latest
}

func errorTypeKey(errorType string) string {
	if errorType == wildcardErrorType {
		return wildcardErrorType
	}
	return strings.ToLower(strings.TrimSpace(errorType))
}
