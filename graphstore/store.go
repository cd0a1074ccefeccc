// Package graphstore provides the disk-backed buffer for graph objects
// produced during an invocation. Objects are batched in memory per bucket
// path, flushed to a sharded on-disk type index when a threshold is
// reached, and served back through filtered iteration for upload.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/metric"
	"github.com/JupiterOne/integration-sdk/pkg/bucketmap"
)

// DefaultFlushThreshold is the buffered item count at which an add
// triggers a flush of the affected map.
const DefaultFlushThreshold = 500

// defaultShardWriters bounds how many shard files one flush writes
// concurrently.
const defaultShardWriters = 4

// EntityFilter selects entities by type during iteration. An empty Type
// matches every type directory in the index.
type EntityFilter struct {
	Type string
}

// RelationshipFilter selects relationships by type during iteration.
type RelationshipFilter struct {
	Type string
}

// FileSystemGraphStore buffers graph objects in two bucket maps and
// flushes them to shard files under the cache directory:
//
//	index/entities/<type>/<uuid>.json       {"entities": [...]}
//	index/relationships/<type>/<uuid>.json  {"relationships": [...]}
//	graph/<bucket>/<uuid>.json              human-readable mirror
//
// A single-permit semaphore serializes flushes; adds interleave with the
// disk writes because buckets are snapshotted and removed before writing.
type FileSystemGraphStore struct {
	cacheDirectory string
	flushThreshold int
	logger         *slog.Logger
	metrics        *metric.Metrics

	// mu guards the bucket maps and the key set; the bucket maps are not
	// safe for concurrent mutation on their own.
	mu            sync.Mutex
	entities      *bucketmap.BucketMap[*graphobject.Entity]
	relationships *bucketmap.BucketMap[*graphobject.Relationship]
	seenKeys      map[string]bool

	// flushSem is a single-permit semaphore: exactly one flush runs at a
	// time per store.
	flushSem chan struct{}
}

// Option configures a FileSystemGraphStore.
type Option func(*FileSystemGraphStore)

// WithFlushThreshold overrides the default flush threshold.
func WithFlushThreshold(threshold int) Option {
	return func(s *FileSystemGraphStore) {
		if threshold > 0 {
			s.flushThreshold = threshold
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileSystemGraphStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables flush counters on the store.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(s *FileSystemGraphStore) {
		s.metrics = metrics
	}
}

// NewFileSystemGraphStore creates a store rooted at cacheDirectory,
// creating the directory if needed.
func NewFileSystemGraphStore(cacheDirectory string, opts ...Option) (*FileSystemGraphStore, error) {
	if cacheDirectory == "" {
		return nil, fmt.Errorf("graphstore: cache directory is required")
	}
	if err := os.MkdirAll(cacheDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("graphstore: failed to create cache directory: %w", err)
	}

	store := &FileSystemGraphStore{
		cacheDirectory: cacheDirectory,
		flushThreshold: DefaultFlushThreshold,
		logger:         slog.Default(),
		entities:       bucketmap.New[*graphobject.Entity](),
		relationships:  bucketmap.New[*graphobject.Relationship](),
		seenKeys:       make(map[string]bool),
		flushSem:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// CacheDirectory returns the root the store writes under.
func (s *FileSystemGraphStore) CacheDirectory() string {
	return s.cacheDirectory
}

// AddEntities appends entities to the bucket at bucketPath. Entity keys
// must be unique within the invocation; a duplicate key is rejected before
// anything is buffered. When the buffered entity count reaches the flush
// threshold the call flushes the entity map before returning, applying
// backpressure to fast producers.
func (s *FileSystemGraphStore) AddEntities(ctx context.Context, bucketPath string, entities []*graphobject.Entity) error {
	s.mu.Lock()
	batchKeys := make(map[string]bool, len(entities))
	for _, e := range entities {
		if s.seenKeys[e.Key] || batchKeys[e.Key] {
			s.mu.Unlock()
			return fmt.Errorf("graphstore: duplicate entity _key %q", e.Key)
		}
		batchKeys[e.Key] = true
	}
	for _, e := range entities {
		s.seenKeys[e.Key] = true
	}
	s.entities.Add(bucketPath, entities)
	needsFlush := s.entities.TotalItemCount() >= s.flushThreshold
	s.mu.Unlock()

	if needsFlush {
		return s.flushEntities(ctx)
	}
	return nil
}

// AddRelationships appends relationships to the bucket at bucketPath,
// flushing the relationship map when the threshold is reached.
func (s *FileSystemGraphStore) AddRelationships(ctx context.Context, bucketPath string, relationships []*graphobject.Relationship) error {
	s.mu.Lock()
	s.relationships.Add(bucketPath, relationships)
	needsFlush := s.relationships.TotalItemCount() >= s.flushThreshold
	s.mu.Unlock()

	if needsFlush {
		return s.flushRelationships(ctx)
	}
	return nil
}

// IterateEntities flushes the entity map, then walks the on-disk entity
// index matching the filter, invoking iteratee once per entity. Shards are
// visited in discovery order; within a shard, insertion order holds.
func (s *FileSystemGraphStore) IterateEntities(ctx context.Context, filter EntityFilter, iteratee func(*graphobject.Entity) error) error {
	if err := s.flushEntities(ctx); err != nil {
		return err
	}
	return iterateIndex(ctx, filepath.Join(s.cacheDirectory, "index", "entities"), filter.Type,
		func(data []byte) error {
			var payload entityShard
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("graphstore: failed to decode entity shard: %w", err)
			}
			for _, e := range payload.Entities {
				if err := iteratee(e); err != nil {
					return err
				}
			}
			return nil
		})
}

// IterateRelationships flushes the relationship map, then walks the
// on-disk relationship index matching the filter.
func (s *FileSystemGraphStore) IterateRelationships(ctx context.Context, filter RelationshipFilter, iteratee func(*graphobject.Relationship) error) error {
	if err := s.flushRelationships(ctx); err != nil {
		return err
	}
	return iterateIndex(ctx, filepath.Join(s.cacheDirectory, "index", "relationships"), filter.Type,
		func(data []byte) error {
			var payload relationshipShard
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("graphstore: failed to decode relationship shard: %w", err)
			}
			for _, r := range payload.Relationships {
				if err := iteratee(r); err != nil {
					return err
				}
			}
			return nil
		})
}

// Flush flushes both maps concurrently.
func (s *FileSystemGraphStore) Flush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.flushEntities(ctx) })
	g.Go(func() error { return s.flushRelationships(ctx) })
	return g.Wait()
}

type entityShard struct {
	Entities []*graphobject.Entity `json:"entities"`
}

type relationshipShard struct {
	Relationships []*graphobject.Relationship `json:"relationships"`
}

// flushEntities drains the entity map and writes one shard per (bucket,
// type) pair under the entity index.
func (s *FileSystemGraphStore) flushEntities(ctx context.Context) error {
	return s.flush(ctx, func() []shardWrite {
		var writes []shardWrite
		for _, path := range s.entities.Keys() {
			items := s.entities.Get(path)
			byType := make(map[string][]*graphobject.Entity)
			for _, e := range items {
				byType[e.Type] = append(byType[e.Type], e)
			}
			for entityType, typed := range byType {
				writes = append(writes, shardWrite{
					indexDir: filepath.Join(s.cacheDirectory, "index", "entities", entityType),
					graphDir: filepath.Join(s.cacheDirectory, "graph", path),
					payload:  entityShard{Entities: typed},
					kind:     "entities",
					count:    len(typed),
				})
			}
			s.entities.Delete(path)
		}
		return writes
	})
}

// flushRelationships drains the relationship map and writes one shard per
// (bucket, type) pair under the relationship index.
func (s *FileSystemGraphStore) flushRelationships(ctx context.Context) error {
	return s.flush(ctx, func() []shardWrite {
		var writes []shardWrite
		for _, path := range s.relationships.Keys() {
			items := s.relationships.Get(path)
			byType := make(map[string][]*graphobject.Relationship)
			for _, r := range items {
				byType[r.Type] = append(byType[r.Type], r)
			}
			for relType, typed := range byType {
				writes = append(writes, shardWrite{
					indexDir: filepath.Join(s.cacheDirectory, "index", "relationships", relType),
					graphDir: filepath.Join(s.cacheDirectory, "graph", path),
					payload:  relationshipShard{Relationships: typed},
					kind:     "relationships",
					count:    len(typed),
				})
			}
			s.relationships.Delete(path)
		}
		return writes
	})
}

type shardWrite struct {
	indexDir string
	graphDir string
	payload  any
	kind     string
	count    int
}

// flush acquires the single flush permit, snapshots and drains buckets
// under the map lock, then writes shard files with bounded parallelism.
// The permit is released on every exit path.
func (s *FileSystemGraphStore) flush(ctx context.Context, drain func() []shardWrite) error {
	select {
	case s.flushSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.flushSem }()

	s.mu.Lock()
	writes := drain()
	s.mu.Unlock()

	if len(writes) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(defaultShardWriters)
	for _, w := range writes {
		w := w
		g.Go(func() error {
			return s.writeShard(w)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, w := range writes {
		s.logger.Debug("flushed graph objects", "kind", w.kind, "count", w.count)
		if s.metrics != nil {
			s.metrics.FlushedObjects.WithLabelValues(w.kind).Add(float64(w.count))
		}
	}
	return nil
}

// writeShard writes one shard file under the type index and mirrors it
// under the per-bucket graph tree.
func (s *FileSystemGraphStore) writeShard(w shardWrite) error {
	data, err := json.Marshal(w.payload)
	if err != nil {
		return fmt.Errorf("graphstore: failed to encode shard: %w", err)
	}

	shardName := uuid.NewString() + ".json"

	if err := os.MkdirAll(w.indexDir, 0o755); err != nil {
		return fmt.Errorf("graphstore: failed to create index directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.indexDir, shardName), data, 0o644); err != nil {
		return fmt.Errorf("graphstore: failed to write shard: %w", err)
	}

	// The graph tree exists for human inspection only; it is never read
	// back during iteration.
	if err := os.MkdirAll(w.graphDir, 0o755); err != nil {
		return fmt.Errorf("graphstore: failed to create graph directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.graphDir, shardName), data, 0o644); err != nil {
		return fmt.Errorf("graphstore: failed to write graph mirror: %w", err)
	}
	return nil
}

// iterateIndex walks index shard files for one kind, optionally restricted
// to a single type directory.
func iterateIndex(ctx context.Context, kindDir, typeFilter string, decode func([]byte) error) error {
	typeDirs, err := os.ReadDir(kindDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("graphstore: failed to read index: %w", err)
	}

	var names []string
	for _, d := range typeDirs {
		if !d.IsDir() {
			continue
		}
		if typeFilter != "" && d.Name() != typeFilter {
			continue
		}
		names = append(names, d.Name())
	}
	sort.Strings(names)

	for _, typeName := range names {
		typeDir := filepath.Join(kindDir, typeName)
		shards, err := os.ReadDir(typeDir)
		if err != nil {
			return fmt.Errorf("graphstore: failed to read type index %s: %w", typeName, err)
		}

		shardNames := make([]string, 0, len(shards))
		for _, shard := range shards {
			if shard.IsDir() {
				continue
			}
			shardNames = append(shardNames, shard.Name())
		}
		sort.Strings(shardNames)

		for _, shardName := range shardNames {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(typeDir, shardName))
			if err != nil {
				return fmt.Errorf("graphstore: failed to read shard %s: %w", shardName, err)
			}
			if err := decode(data); err != nil {
				return err
			}
		}
	}
	return nil
}
