package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/bridge"
	"github.com/Luna-leo/seriesd/pkg/models"
)

var (
	// ErrNotFound means no reference exists for the given id.
	ErrNotFound = errors.New("reference not found")

	// ErrDataUnavailable means the reference exists but its table was
	// evicted before it was persisted, so the data is gone for good.
	ErrDataUnavailable = errors.New("data evicted before persistence")
)

type entry struct {
	ref          *models.DataReference
	meta         *models.Metadata
	registeredAt time.Time
}

// Registry owns every registered dataset: the reference records, the
// derived metadata, and the memory-bounded table cache. One RWMutex
// serializes registration, eviction and lookup; the cache has no lock of
// its own.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // registration order, for stable listing
	cache   *tableCache
	logger  zerolog.Logger
}

// New creates a registry with the given cache budget in bytes.
func New(maxCacheBytes int64, warnPercents []int, logger zerolog.Logger) *Registry {
	log := logger.With().Str("component", "registry").Logger()
	return &Registry{
		entries: make(map[string]*entry),
		cache:   newTableCache(maxCacheBytes, warnPercents, log),
		logger:  log,
	}
}

// Register stores a parsed table under a fresh reference id and returns
// the reference. Registering the same file twice produces two independent
// references; the registry never deduplicates by file name. Registration
// may evict older in-memory tables, but never the one being registered.
func (r *Registry) Register(fileName string, table *models.Table) (*models.DataReference, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("register %s: %w", fileName, err)
	}

	sourceID := SourceID(fileName)
	id := fmt.Sprintf("%s-%s", sourceID, uuid.New().String()[:12])

	ref := &models.DataReference{
		ID:        id,
		FileName:  fileName,
		SourceID:  sourceID,
		TotalRows: table.NumRows(),
		Location:  models.LocationMemory,
	}
	if tr, ok := table.TimeRange(); ok {
		ref.TimeRange = tr
	}
	meta := computeMetadata(id, table)

	r.mu.Lock()
	r.entries[id] = &entry{ref: ref, meta: meta, registeredAt: time.Now()}
	r.order = append(r.order, id)
	evicted := r.cache.put(id, table)
	lost := r.markEvictedLocked(evicted)
	r.mu.Unlock()

	for _, victim := range lost {
		r.logger.Warn().
			Str("reference_id", victim).
			Msg("Evicted table was never persisted; its data is unrecoverable")
	}
	r.logger.Info().
		Str("reference_id", id).
		Str("file", fileName).
		Int("rows", table.NumRows()).
		Int("params", len(table.Params)).
		Msg("Registered dataset")
	return cloneRef(ref), nil
}

// markEvictedLocked returns the subset of evicted ids whose data only
// existed in memory. Caller holds the write lock.
func (r *Registry) markEvictedLocked(evicted []string) []string {
	var lost []string
	for _, id := range evicted {
		e, ok := r.entries[id]
		if !ok {
			continue
		}
		if e.ref.Location == models.LocationMemory {
			lost = append(lost, id)
		}
	}
	return lost
}

// Lookup resolves an id to its reference and, when cached, its table.
// A nil table with a nil error means the data has been persisted and
// must be reloaded through the bridge; callers rehydrate via Rehydrate.
func (r *Registry) Lookup(id string) (*models.DataReference, *models.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if table, cached := r.cache.get(id); cached {
		return cloneRef(e.ref), table, nil
	}
	if e.ref.Location == models.LocationExternal {
		return cloneRef(e.ref), nil, nil
	}
	return nil, nil, fmt.Errorf("reference %s: %w", id, ErrDataUnavailable)
}

// Get returns the reference record for an id.
func (r *Registry) Get(id string) (*models.DataReference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRef(e.ref), nil
}

// GetMetadata returns the statistics computed at registration time.
func (r *Registry) GetMetadata(id string) (*models.Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.meta, nil
}

// List returns all references in registration order.
func (r *Registry) List() []*models.DataReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]*models.DataReference, 0, len(r.entries))
	for _, id := range r.order {
		if e, ok := r.entries[id]; ok {
			refs = append(refs, cloneRef(e.ref))
		}
	}
	return refs
}

// Forget removes a reference and its cached table. External objects the
// reference pointed at are not deleted.
func (r *Registry) Forget(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.cache.remove(id)
	r.logger.Info().Str("reference_id", id).Msg("Forgot reference")
	return nil
}

// Rehydrate puts a table reloaded from external storage back into the
// cache. The reference keeps its external-store location; the cached copy
// is just a working copy and can be evicted again freely.
func (r *Registry) Rehydrate(id string, table *models.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.ref.Location != models.LocationExternal {
		return fmt.Errorf("reference %s is not externally stored", id)
	}
	evicted := r.cache.put(id, table)
	lost := r.markEvictedLocked(evicted)
	for _, victim := range lost {
		r.logger.Warn().
			Str("reference_id", victim).
			Msg("Evicted table was never persisted; its data is unrecoverable")
	}
	return nil
}

// Persist writes the reference's table through the bridge, one object
// per calendar month, and flips the reference to external-store only
// after every partition saved. Persisting an already-external reference
// is a no-op returning the existing partition keys.
func (r *Registry) Persist(ctx context.Context, id string, br bridge.Bridge) ([]string, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.RUnlock()
		return nil, ErrNotFound
	}
	if e.ref.Location == models.LocationExternal {
		keys := append([]string(nil), e.ref.PartitionKeys...)
		r.mu.RUnlock()
		return keys, nil
	}
	table, cached := r.cache.get(id)
	sourceID := e.ref.SourceID
	r.mu.RUnlock()

	if !cached {
		return nil, fmt.Errorf("reference %s: %w", id, ErrDataUnavailable)
	}

	parts := bridge.SplitMonthly(table, sourceID)
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if err := br.Save(ctx, part.Table, part.Key); err != nil {
			return nil, fmt.Errorf("persist %s: %w", id, err)
		}
		keys = append(keys, part.Key)
	}

	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.ref.Location = models.LocationExternal
		e.ref.PartitionKeys = keys
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("reference_id", id).
		Int("partitions", len(keys)).
		Msg("Persisted dataset")
	return keys, nil
}

// PersistCandidates returns ids of in-memory references registered at
// least minAge ago whose tables are still cached, oldest first. These
// are what the auto-persist sweep writes out.
func (r *Registry) PersistCandidates(minAge time.Duration) []string {
	cutoff := time.Now().Add(-minAge)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		e, ok := r.entries[id]
		if !ok || e.ref.Location != models.LocationMemory {
			continue
		}
		if e.registeredAt.After(cutoff) {
			continue
		}
		if _, cached := r.cache.get(id); !cached {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// CacheUsage reports current cache occupancy.
func (r *Registry) CacheUsage() Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.usage()
}

// ClearCache drops every cached table. In-memory-only references lose
// their data; external references can be reloaded on demand.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	r.cache.clear()
	r.mu.Unlock()
	r.logger.Info().Msg("Cleared table cache")
}

func cloneRef(ref *models.DataReference) *models.DataReference {
	out := *ref
	out.PartitionKeys = append([]string(nil), ref.PartitionKeys...)
	return &out
}

// SourceID derives the storage grouping key from a file name: the stem
// lowercased with anything outside [a-z0-9_-] collapsed to a single dash.
func SourceID(fileName string) string {
	stem := fileName
	if i := strings.LastIndexByte(stem, '/'); i >= 0 {
		stem = stem[i+1:]
	}
	for _, ext := range []string{".gz", ".csv"} {
		stem = strings.TrimSuffix(strings.ToLower(stem), ext)
	}
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(stem) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(sb.String(), "-")
	if out == "" {
		return "dataset"
	}
	return out
}
