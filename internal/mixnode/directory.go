package mixnode

import (
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Source publishes mixnode snapshots tagged with a generation that changes on
// every publication. *pagecache.Cache[MixNodeBond] satisfies it.
type Source interface {
	Load() ([]MixNodeBond, uint64)
}

// Directory answers lookups over the current snapshot. Derived views are
// memoized per generation, so they are rebuilt only after a refresh publishes.
// Returned slices are shared and must not be modified.
type Directory struct {
	source Source
	views  *lru.Cache[string, any]
}

// NewDirectory creates a Directory that keeps up to size derived views
func NewDirectory(source Source, size int) (*Directory, error) {
	views, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create view cache: %w", err)
	}
	return &Directory{source: source, views: views}, nil
}

// All returns every bond in contract order
func (d *Directory) All() []MixNodeBond {
	nodes, _ := d.source.Load()
	return nodes
}

// Generation returns the generation of the snapshot currently served
func (d *Directory) Generation() uint64 {
	_, gen := d.source.Load()
	return gen
}

// ByIdentity looks up a bond by node identity key
func (d *Directory) ByIdentity(identity string) (MixNodeBond, bool) {
	nodes, gen := d.source.Load()
	index := memoize(d, gen, "identity", func() map[string]int {
		m := make(map[string]int, len(nodes))
		for i, n := range nodes {
			// first occurrence wins; the contract never repeats identities
			if _, ok := m[n.Identity()]; !ok {
				m[n.Identity()] = i
			}
		}
		return m
	})
	i, ok := index[identity]
	if !ok {
		return MixNodeBond{}, false
	}
	return nodes[i], true
}

// ByLayer returns bonds assigned to layer
func (d *Directory) ByLayer(layer Layer) []MixNodeBond {
	nodes, gen := d.source.Load()
	return memoize(d, gen, "layer:"+layer.String(), func() []MixNodeBond {
		return filter(nodes, func(n MixNodeBond) bool { return n.Layer == layer })
	})
}

// ByOwner returns bonds owned by addr
func (d *Directory) ByOwner(addr string) []MixNodeBond {
	nodes, gen := d.source.Load()
	return memoize(d, gen, "owner:"+addr, func() []MixNodeBond {
		return filter(nodes, func(n MixNodeBond) bool { return n.Owner == addr })
	})
}

// TotalBonded sums bond amounts in denom across the snapshot
func (d *Directory) TotalBonded(denom string) (*big.Int, error) {
	total := new(big.Int)
	for _, n := range d.All() {
		if n.BondAmount.Denom != denom {
			continue
		}
		amount, err := n.BondAmount.Int()
		if err != nil {
			return nil, fmt.Errorf("mixnode %s: %w", n.Identity(), err)
		}
		total.Add(total, amount)
	}
	return total, nil
}

func memoize[V any](d *Directory, gen uint64, query string, build func() V) V {
	key := fmt.Sprintf("%d:%s", gen, query)
	if v, ok := d.views.Get(key); ok {
		return v.(V)
	}
	v := build()
	d.views.Add(key, v)
	return v
}

func filter(nodes []MixNodeBond, keep func(MixNodeBond) bool) []MixNodeBond {
	out := make([]MixNodeBond, 0)
	for _, n := range nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}
