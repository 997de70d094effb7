package orchestrator

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/simplui/simplui/internal/workflow"
)

// DeriveSeeds returns n seeds for a batch. The first is base itself so a
// single run uses exactly the displayed seed; the rest depend only on base
// and their index and lie in [0, limit]. A zero limit means the full range.
func DeriveSeeds(base uint64, n int, limit uint64) []uint64 {
	if n <= 0 {
		return nil
	}
	seeds := make([]uint64, n)
	seeds[0] = base
	for i := 1; i < n; i++ {
		seeds[i] = drawSeed(rand.New(rand.NewPCG(base, uint64(i))), limit)
	}
	return seeds
}

// SeedField is a seed input of a graph with its effective base value.
type SeedField struct {
	NodeID    string
	Field     string
	Base      uint64
	Randomize bool
}

// Key returns the override key of the field.
func (s SeedField) Key() string { return workflow.Key(s.NodeID, s.Field) }

// SeedFields finds the seed inputs of g in node order. Inputs the engine
// lists as a choice set in info are not seeds. The base comes from overrides
// when they carry a usable value, otherwise from the literal. The randomize
// flag comes from overrides and defaults to base == 0.
func SeedFields(g workflow.Graph, overrides workflow.Overrides, info workflow.ObjectInfo) []SeedField {
	var out []SeedField
	for _, id := range g.NodeIDs() {
		node := g[id]
		for _, name := range node.InputNames() {
			if !workflow.IsSeedField(name) {
				continue
			}
			v, _ := node.Input(name)
			if v.Kind() != workflow.ValueNumber {
				continue
			}
			if spec, ok := info.Lookup(node.ClassType, name); ok && spec.IsEnum() {
				continue
			}

			sf := SeedField{NodeID: id, Field: name}
			if raw, ok := overrides[sf.Key()]; ok {
				sf.Base, ok = toSeed(raw)
				if !ok {
					sf.Base, _ = v.Uint64()
				}
			} else {
				sf.Base, _ = v.Uint64()
			}

			if r, ok := overrides.Randomize(id, name); ok {
				sf.Randomize = r
			} else {
				sf.Randomize = sf.Base == 0
			}
			out = append(out, sf)
		}
	}
	return out
}

func toSeed(raw any) (uint64, bool) {
	if s, ok := raw.(string); ok {
		u, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		return u, err == nil
	}
	v, ok := workflow.ValueOf(raw)
	if !ok {
		return 0, false
	}
	return v.Uint64()
}

// drawSeed picks a seed in [0, limit]. A zero limit means the full range.
func drawSeed(r *rand.Rand, limit uint64) uint64 {
	if limit == 0 || limit == math.MaxUint64 {
		return r.Uint64()
	}
	return r.Uint64N(limit + 1)
}

// SeedMax returns the smallest maximum the engine declares for the seed
// inputs of g, or 0 when none is declared.
func SeedMax(g workflow.Graph, info workflow.ObjectInfo) uint64 {
	var limit uint64
	for _, sf := range SeedFields(g, nil, info) {
		spec, ok := info.Lookup(g[sf.NodeID].ClassType, sf.Field)
		if !ok {
			continue
		}
		if m, ok := spec.MaxUint64(); ok && m > 0 && (limit == 0 || m < limit) {
			limit = m
		}
	}
	return limit
}
