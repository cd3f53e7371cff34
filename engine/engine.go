package engine

import (
	"log/slog"
	"sync"

	"goldhash/catalog"
	"goldhash/common"
	"goldhash/perw"
)

// Options wires an Engine. Accessor and Delocator default to the perw
// implementations; a nil Proxy disables forwarding.
type Options struct {
	Catalog   Catalog
	Accessor  ImageAccessor
	Delocator Delocator
	Proxy     Forwarder
	Logger    *slog.Logger
}

// Engine answers verification and fetch calls. It is safe for concurrent
// use; all per-request image state stays inside the call.
type Engine struct {
	catalog   Catalog
	accessor  ImageAccessor
	delocator Delocator
	proxy     Forwarder
	logger    *slog.Logger

	relocMu sync.RWMutex
	relocs  map[string]perw.RelocationSet
}

func New(opts Options) *Engine {
	e := &Engine{
		catalog:   opts.Catalog,
		accessor:  opts.Accessor,
		delocator: opts.Delocator,
		proxy:     opts.Proxy,
		logger:    opts.Logger,
		relocs:    make(map[string]perw.RelocationSet),
	}
	if e.accessor == nil {
		e.accessor = perw.Accessor{}
	}
	if e.delocator == nil {
		e.delocator = perw.Delocator{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// relocations returns the processed relocation set of a reference file,
// extracting it on first use. Sets are read-only once cached.
func (e *Engine) relocations(path string) (perw.RelocationSet, error) {
	e.relocMu.RLock()
	set, ok := e.relocs[path]
	e.relocMu.RUnlock()
	if ok {
		return set, nil
	}

	raw, err := e.accessor.ExtractRelocationDirectory(path)
	if err != nil {
		return nil, err
	}
	set = e.delocator.ProcessRelocations(raw)

	e.relocMu.Lock()
	e.relocs[path] = set
	e.relocMu.Unlock()
	return set, nil
}

// resolve picks the reference copy for a reported module: the record at
// the same path with the same build identity, else any record with that
// identity.
func (e *Engine) resolve(base, modulePath string, sizeOfImage, timeStamp uint32) (catalog.Record, bool) {
	candidates := e.catalog.Lookup(base)
	for _, rec := range candidates {
		if rec.Matches(sizeOfImage, timeStamp) && common.SamePath(rec.Path, modulePath) {
			return rec, true
		}
	}
	for _, rec := range candidates {
		if rec.Matches(sizeOfImage, timeStamp) {
			return rec, true
		}
	}
	return catalog.Record{}, false
}
