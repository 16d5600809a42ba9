package mixnode

import (
	"fmt"
	"math/big"
)

// DefaultProfitMargin applies to bonds that never set a margin
const DefaultProfitMargin = 0.1

// Layer is the mixnet layer a node is assigned to
type Layer uint8

const (
	LayerGateway Layer = 0
	LayerOne     Layer = 1
	LayerTwo     Layer = 2
	LayerThree   Layer = 3
)

// String returns the layer name
func (l Layer) String() string {
	switch l {
	case LayerGateway:
		return "gateway"
	case LayerOne, LayerTwo, LayerThree:
		return fmt.Sprintf("layer-%d", uint8(l))
	default:
		return fmt.Sprintf("unknown(%d)", uint8(l))
	}
}

// Valid reports whether l is one of the known layers
func (l Layer) Valid() bool {
	return l <= LayerThree
}

// Coin is an amount of a single denomination. Amount is a base-10 integer string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Int parses the amount
func (c Coin) Int() (*big.Int, error) {
	n, ok := new(big.Int).SetString(c.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s amount %q", c.Denom, c.Amount)
	}
	return n, nil
}

// MixNode describes how to reach a node
type MixNode struct {
	Host        string `json:"host"`
	MixPort     uint16 `json:"mix_port"`
	VerlocPort  uint16 `json:"verloc_port"`
	HTTPAPIPort uint16 `json:"http_api_port"`
	SphinxKey   string `json:"sphinx_key"`
	IdentityKey string `json:"identity_key"`
	Version     string `json:"version"`
}

// MixNodeBond is a bonded mixnode record as stored by the mixnet contract
type MixNodeBond struct {
	BondAmount      Coin     `json:"bond_amount"`
	TotalDelegation Coin     `json:"total_delegation"`
	Owner           string   `json:"owner"`
	Layer           Layer    `json:"layer"`
	BlockHeight     uint64   `json:"block_height"`
	MixNode         MixNode  `json:"mix_node"`
	ProfitMargin    *float64 `json:"profit_margin,omitempty"`
}

// Identity returns the node identity key, which is also the paging cursor
func (b MixNodeBond) Identity() string {
	return b.MixNode.IdentityKey
}

// ProfitMarginOrDefault returns the configured margin or DefaultProfitMargin
func (b MixNodeBond) ProfitMarginOrDefault() float64 {
	if b.ProfitMargin != nil {
		return *b.ProfitMargin
	}
	return DefaultProfitMargin
}

// TotalStake returns bond plus delegation when both share a denomination
func (b MixNodeBond) TotalStake() (*big.Int, error) {
	bond, err := b.BondAmount.Int()
	if err != nil {
		return nil, err
	}
	if b.TotalDelegation.Amount == "" {
		return bond, nil
	}
	if b.TotalDelegation.Denom != b.BondAmount.Denom {
		return nil, fmt.Errorf("mixnode %s: bond denom %s differs from delegation denom %s",
			b.Identity(), b.BondAmount.Denom, b.TotalDelegation.Denom)
	}
	delegation, err := b.TotalDelegation.Int()
	if err != nil {
		return nil, err
	}
	return bond.Add(bond, delegation), nil
}

// PagedMixNodeResponse is the contract reply to a get_mix_nodes query
type PagedMixNodeResponse struct {
	Nodes          []MixNodeBond `json:"nodes"`
	PerPage        int           `json:"per_page"`
	StartNextAfter *string       `json:"start_next_after,omitempty"`
}

// getMixNodesQuery is the contract query message
type getMixNodesQuery struct {
	GetMixNodes getMixNodesArgs `json:"get_mix_nodes"`
}

type getMixNodesArgs struct {
	Limit      int    `json:"limit"`
	StartAfter string `json:"start_after,omitempty"`
}
