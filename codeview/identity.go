// Package codeview builds the module identity a client reports in query
// parameters: file and PDB names, build timestamp, image size, GUID/age.
package codeview

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"goldhash/common"
)

// ModuleIdentity is the CodeView identity of a module build.
type ModuleIdentity struct {
	Name          string
	PdbName       string
	Type          string
	SymName       string
	SymAddr       uint64
	BaseVA        uint64
	VSize         uint32
	SymRange      uint32
	Age           uint32
	Sig           uint32
	TimeDateStamp uint32
	GUID          uuid.UUID
	PDBFullPath   string

	// FullyParsed is false when a supplied numeric or GUID field could
	// not be parsed and was left at its zero value.
	FullyParsed bool
}

// Lowered folds query keys to lower case. When a key appears under more
// than one spelling the first value seen wins.
func Lowered(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, vs := range q {
		lk := strings.ToLower(k)
		if _, seen := out[lk]; seen || len(vs) == 0 {
			continue
		}
		out[lk] = vs[0]
	}
	return out
}

// FromValues builds an identity from query parameters. It fails with
// common.ErrInputValidation when the module or PDB name could escape a
// directory or carries disallowed characters.
func FromValues(q url.Values) (*ModuleIdentity, error) {
	fields := Lowered(q)
	for _, key := range []string{"name", "pdb"} {
		v := fields[key]
		if strings.Contains(v, "..") {
			return nil, errors.Wrapf(common.ErrInputValidation, "%s contains a parent reference", key)
		}
		if common.HasDisallowedRune(v) {
			return nil, errors.Wrapf(common.ErrInputValidation, "%s contains a disallowed character", key)
		}
	}

	id := &ModuleIdentity{
		Name:        fields["name"],
		PdbName:     fields["pdb"],
		Type:        fields["type"],
		SymName:     fields["symname"],
		FullyParsed: true,
	}
	p := parser{ok: true}
	id.BaseVA = p.u64(fields["baseva"])
	id.SymAddr = p.u64(fields["symaddr"])
	id.VSize = p.u32(fields["vsize"])
	id.SymRange = p.u32(fields["symrange"])
	id.Age = p.u32(fields["age"])
	id.Sig = p.u32(fields["sig"])
	id.TimeDateStamp = p.u32(fields["timedate"])
	if g := strings.TrimSpace(fields["guid"]); g != "" {
		parsed, err := uuid.Parse(strings.Trim(g, "{}"))
		if err != nil {
			p.ok = false
		} else {
			id.GUID = parsed
		}
	}
	id.FullyParsed = p.ok
	return id, nil
}

type parser struct {
	ok bool
}

func (p *parser) u64(s string) uint64 {
	v, err := ParseUint64(s)
	if err != nil && !errors.Is(err, ErrEmpty) {
		p.ok = false
	}
	return v
}

func (p *parser) u32(s string) uint32 {
	v, err := ParseUint32(s)
	if err != nil && !errors.Is(err, ErrEmpty) {
		p.ok = false
	}
	return v
}
