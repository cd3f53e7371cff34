// Package catalog indexes reference PE images found on disk by lower-case
// file name.
package catalog

import (
	"hash/fnv"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"goldhash/common"
	"goldhash/perw"
)

const shardCount = 32

// Record is one known on-disk copy of a binary.
type Record struct {
	SizeOfImage uint32
	TimeStamp   uint32
	Path        string
}

// Matches reports whether the record has the given build identity.
func (r Record) Matches(sizeOfImage, timeStamp uint32) bool {
	return r.SizeOfImage == sizeOfImage && r.TimeStamp == timeStamp
}

type shard struct {
	mu sync.RWMutex
	m  map[string][]Record
}

// Options configures a Catalog. Zero values select defaults.
type Options struct {
	Logger  *slog.Logger
	Workers int

	// Parse decodes a header page. Defaults to perw.TryParse.
	Parse func([]byte) (*perw.ImageInfo, error)

	// VolumeOf identifies the filesystem holding a path. Defaults to the
	// platform implementation.
	VolumeOf func(string) (string, error)

	// IsReparsePoint reports directories that must not be descended.
	IsReparsePoint func(path string, d fs.DirEntry) bool
}

// Catalog maps lower-case base names to the records found for them. It
// is safe for concurrent use; writes lock a single shard.
type Catalog struct {
	shards [shardCount]*shard

	logger         *slog.Logger
	workers        int
	parse          func([]byte) (*perw.ImageInfo, error)
	volumeOf       func(string) (string, error)
	isReparsePoint func(string, fs.DirEntry) bool
}

func New(opts Options) *Catalog {
	c := &Catalog{
		logger:         opts.Logger,
		workers:        opts.Workers,
		parse:          opts.Parse,
		volumeOf:       opts.VolumeOf,
		isReparsePoint: opts.IsReparsePoint,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.workers < 1 {
		c.workers = 4
	}
	if c.parse == nil {
		c.parse = perw.TryParse
	}
	if c.volumeOf == nil {
		c.volumeOf = volumeID
	}
	if c.isReparsePoint == nil {
		c.isReparsePoint = isReparsePoint
	}
	for i := range c.shards {
		c.shards[i] = &shard{m: make(map[string][]Record)}
	}
	return c
}

// Key normalizes a file name or path to a catalog key.
func Key(name string) string {
	return strings.ToLower(common.BaseName(name))
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

func (c *Catalog) shardFor(key string) *shard {
	return c.shards[shardIndex(key)]
}

// Insert adds rec under the key for name. A record with the same path
// replaces the earlier one.
func (c *Catalog) Insert(name string, rec Record) {
	key := Key(name)
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.m[key]
	for i := range recs {
		if recs[i].Path == rec.Path {
			recs[i] = rec
			return
		}
	}
	s.m[key] = append(recs, rec)
}

// Lookup returns a copy of the records for name, sorted by path. The
// name is normalized, so lookups are case-insensitive.
func (c *Catalog) Lookup(name string) []Record {
	key := Key(name)
	s := c.shardFor(key)
	s.mu.RLock()
	out := append([]Record(nil), s.m[key]...)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of distinct names.
func (c *Catalog) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Names returns every key in sorted order.
func (c *Catalog) Names() []string {
	var names []string
	for _, s := range c.shards {
		s.mu.RLock()
		for k := range s.m {
			names = append(names, k)
		}
		s.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) snapshot() map[string][]Record {
	out := make(map[string][]Record)
	for _, s := range c.shards {
		s.mu.RLock()
		for k, v := range s.m {
			out[k] = append([]Record(nil), v...)
		}
		s.mu.RUnlock()
	}
	return out
}

func (c *Catalog) replace(m map[string][]Record) {
	fresh := make([]map[string][]Record, shardCount)
	for i := range fresh {
		fresh[i] = make(map[string][]Record)
	}
	for k, v := range m {
		key := Key(k)
		idx := shardIndex(key)
		fresh[idx][key] = append(fresh[idx][key], v...)
	}
	for i, s := range c.shards {
		s.mu.Lock()
		s.m = fresh[i]
		s.mu.Unlock()
	}
}
