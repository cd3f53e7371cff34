// Package engine decides whether the memory pages a client reports for a
// loaded module match a trusted reference copy of the same binary.
package engine

import (
	"context"
	"io"
	"net/url"

	"goldhash/catalog"
	"goldhash/perw"
)

// Catalog resolves a module base name to the known reference copies.
type Catalog interface {
	Lookup(name string) []catalog.Record
}

// ImageAccessor decodes reference image headers and relocation data.
type ImageAccessor interface {
	TryParse(buf []byte) (*perw.ImageInfo, error)
	ExtractRelocationDirectory(path string) ([]byte, error)
}

// Delocator normalizes reference pages to a client's load address.
type Delocator interface {
	ProcessRelocations(raw []byte) perw.RelocationSet
	DelocateHeader(page []byte, targetBase uint64, imageBaseFieldOffset int, is64 bool) error
	ScrubHeader(page []byte, info *perw.ImageInfo) perw.ScrubResult
	ApplyDelta(page []byte, info *perw.ImageInfo, delta, pageStartRVA uint64, relocs perw.RelocationSet) int
}

// Forwarder relays a verification request to another instance.
type Forwarder interface {
	Forward(ctx context.Context, uri string, body []byte) (*ProxyResponse, error)
}

// Request is one verification call as received by the transport.
type Request struct {
	Query url.Values
	Body  []byte
	// URI is the request path and query, forwarded verbatim when proxying.
	URI string
}

// PageHash is one page digest reported by the client.
type PageHash struct {
	Address int64  `json:"address"`
	Hash    string `json:"hash"`
}

// PageHashRequest is the JSON body of a verification call.
type PageHashRequest struct {
	HdrHash        string     `json:"hdrHash"`
	TimeDateStamp  uint32     `json:"timeDateStamp"`
	AllocationBase int64      `json:"allocationBase"`
	BaseAddress    int64      `json:"baseAddress"`
	Size           int64      `json:"size"`
	ImageSize      uint32     `json:"imageSize"`
	ID             int64      `json:"id"`
	ProcessName    string     `json:"processName"`
	ModuleName     string     `json:"moduleName"`
	SharedAway     bool       `json:"sharedAway"`
	HashedBlocks   int        `json:"hashedBlocks"`
	HashSet        []PageHash `json:"hashSet"`
}

// PageHashBlockResult is the verdict for one address.
type PageHashBlockResult struct {
	Address int64 `json:"address"`
	Matched bool  `json:"matched"`
}

// Verdict is the response to a verification call. When Proxied is set
// it carries upstream bytes to return unmodified instead of Results.
type Verdict struct {
	Results     []PageHashBlockResult
	Proxied     []byte
	ContentType string
}

// ProxyResponse is what an upstream instance answered.
type ProxyResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// FetchResult is a reference image ready to be sent. Body is the open
// file itself or the fully assembled mapped image; the caller closes it.
type FetchResult struct {
	Path string
	Size int64
	Body io.ReadCloser
}
