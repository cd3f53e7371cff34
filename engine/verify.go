package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"goldhash/codeview"
	"goldhash/common"
	"goldhash/perw"
)

// Verify checks every page digest of a request against the reference
// copy of the module. It always returns a verdict: any failure before or
// during the comparison yields the all-false result list, and a body that
// does not decode yields an empty one.
func (e *Engine) Verify(ctx context.Context, req Request) *Verdict {
	var body PageHashRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		e.logger.Debug("rejecting request", "reason", "malformed body", "err", err)
		return &Verdict{Results: []PageHashBlockResult{}}
	}
	verdict := &Verdict{Results: allFalse(&body)}

	base, err := e.validate(req, &body)
	if err != nil {
		e.logger.Debug("rejecting request", "module", body.ModuleName, "err", err)
		return verdict
	}

	rec, ok := e.resolve(base, body.ModuleName, body.ImageSize, body.TimeDateStamp)
	if !ok {
		return e.forward(ctx, req, &body, verdict)
	}

	if err := e.compare(ctx, rec.Path, &body, verdict.Results); err != nil {
		level := slog.LevelDebug
		if !common.IsRequestFatal(err) {
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "verification aborted", "module", body.ModuleName, "reference", rec.Path, "err", err)
		for i := range verdict.Results {
			verdict.Results[i].Matched = false
		}
	}
	return verdict
}

// allFalse lays out the response: the header at allocationBase, then one
// entry per requested page in request order.
func allFalse(body *PageHashRequest) []PageHashBlockResult {
	out := make([]PageHashBlockResult, 0, len(body.HashSet)+1)
	out = append(out, PageHashBlockResult{Address: body.AllocationBase})
	for _, h := range body.HashSet {
		out = append(out, PageHashBlockResult{Address: h.Address})
	}
	return out
}

func (e *Engine) validate(req Request, body *PageHashRequest) (string, error) {
	if _, err := codeview.FromValues(req.Query); err != nil {
		return "", err
	}
	base := common.BaseName(body.ModuleName)
	if !common.ValidModuleBase(base) {
		return "", errors.Wrapf(common.ErrInputValidation, "module name %q", base)
	}
	if body.TimeDateStamp == 0 || body.ImageSize == 0 {
		return "", errors.Wrap(common.ErrInputValidation, "missing build identity")
	}
	return base, nil
}

func (e *Engine) forward(ctx context.Context, req Request, body *PageHashRequest, verdict *Verdict) *Verdict {
	if e.proxy == nil {
		e.logger.Debug("no reference image", "module", body.ModuleName,
			"size", body.ImageSize, "timestamp", body.TimeDateStamp)
		return verdict
	}
	resp, err := e.proxy.Forward(ctx, req.URI, req.Body)
	if err != nil {
		e.logger.Warn("proxy request failed", "module", body.ModuleName, "err", err)
		return verdict
	}
	return &Verdict{Proxied: resp.Body, ContentType: resp.ContentType}
}

// compare fills results against the reference at path. An error means
// the whole request must be answered all-false.
func (e *Engine) compare(ctx context.Context, path string, body *PageHashRequest, results []PageHashBlockResult) error {
	ref, err := e.openReference(path)
	if err != nil {
		return err
	}
	defer func(ref *reference) {
		_ = ref.Close()
	}(ref)
	e.logger.Debug("verifying", "module", body.ModuleName, "reference", path, "image", ref.info.String())

	results[0].Matched = e.verifyHeader(ref, body)

	for i, h := range body.HashSet {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		rva, err := pageRVA(h.Address, body.AllocationBase)
		if err != nil {
			return err
		}
		matched, err := e.verifyPage(ref, body, rva, h.Hash)
		if err != nil {
			return err
		}
		results[i+1].Matched = matched
	}
	return nil
}

func pageRVA(address, allocationBase int64) (uint64, error) {
	if address < allocationBase {
		return 0, errors.Wrapf(common.ErrRange, "address 0x%X below allocation base 0x%X", address, allocationBase)
	}
	rva := uint64(address) - uint64(allocationBase)
	if rva > math.MaxUint32 {
		return 0, errors.Wrapf(common.ErrRange, "rva 0x%X", rva)
	}
	return rva, nil
}

func (e *Engine) verifyHeader(ref *reference, body *PageHashRequest) bool {
	info := ref.info
	hdr := ref.headerCopy()
	perw.ZeroChecksum(hdr, info)
	if common.PageDigest(hdr) == body.HdrHash {
		return true
	}

	target := uint64(body.AllocationBase)
	if target == info.ImageBase {
		return false
	}
	if _, err := e.relocations(ref.path); err != nil {
		e.logger.Debug("no relocations", "reference", ref.path, "err", err)
	}
	if err := e.delocator.DelocateHeader(hdr, target, info.ImageBaseOffset, info.Is64Bit); err != nil {
		e.logger.Debug("cannot rebase header", "reference", ref.path, "err", err)
		return false
	}
	res := e.delocator.ScrubHeader(hdr, info)
	ref.scrub = &res
	return common.PageDigest(hdr) == body.HdrHash
}

// verifyPage compares one page, retrying once on the reference page moved
// to the client's base when the plain compare fails.
func (e *Engine) verifyPage(ref *reference, body *PageHashRequest, rva uint64, want string) (bool, error) {
	page, err := ref.page(rva)
	if err != nil {
		return false, err
	}
	if common.PageDigest(page) == want {
		return true, nil
	}

	info := ref.info
	target := uint64(body.AllocationBase)
	if target == info.ImageBase {
		return false, nil
	}
	relocs, err := e.relocations(ref.path)
	if err != nil || len(relocs) == 0 {
		return false, nil
	}
	e.delocator.ApplyDelta(page, info, info.ImageBase-target, rva, relocs)
	if rva == uint64(info.BaseOfCode) {
		clear(page[:ref.boundImportBytes(e.delocator)])
	}
	return common.PageDigest(page) == want, nil
}
