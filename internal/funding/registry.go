package funding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// Binding maps a market symbol to the price feed that drives it.
type Binding struct {
	Symbol string
	FeedID common.Hash
}

// Registry resolves feed ids to symbols. It is immutable after construction.
type Registry struct {
	bySymbol map[string]common.Hash
	byFeed   map[common.Hash]string
	symbols  []string
}

// NewRegistry builds a registry. Empty symbols, zero feed ids and duplicate
// symbols or feeds are rejected with domain.ErrInvalidConfig.
func NewRegistry(bindings []Binding) (*Registry, error) {
	if len(bindings) == 0 {
		return nil, fmt.Errorf("funding: no markets configured: %w", domain.ErrInvalidConfig)
	}
	r := &Registry{
		bySymbol: make(map[string]common.Hash, len(bindings)),
		byFeed:   make(map[common.Hash]string, len(bindings)),
		symbols:  make([]string, 0, len(bindings)),
	}
	for _, b := range bindings {
		if b.Symbol == "" {
			return nil, fmt.Errorf("funding: empty symbol for feed %s: %w", b.FeedID.Hex(), domain.ErrInvalidConfig)
		}
		if b.FeedID == (common.Hash{}) {
			return nil, fmt.Errorf("funding: market %s has no feed id: %w", b.Symbol, domain.ErrInvalidConfig)
		}
		if _, dup := r.bySymbol[b.Symbol]; dup {
			return nil, fmt.Errorf("funding: duplicate symbol %s: %w", b.Symbol, domain.ErrInvalidConfig)
		}
		if other, dup := r.byFeed[b.FeedID]; dup {
			return nil, fmt.Errorf("funding: feed %s bound to both %s and %s: %w",
				b.FeedID.Hex(), other, b.Symbol, domain.ErrInvalidConfig)
		}
		r.bySymbol[b.Symbol] = b.FeedID
		r.byFeed[b.FeedID] = b.Symbol
		r.symbols = append(r.symbols, b.Symbol)
	}
	sort.Strings(r.symbols)
	return r, nil
}

// Resolve returns the symbol bound to feedID.
func (r *Registry) Resolve(feedID common.Hash) (string, error) {
	sym, ok := r.byFeed[feedID]
	if !ok {
		return "", fmt.Errorf("funding: feed %s: %w", feedID.Hex(), domain.ErrUnknownFeed)
	}
	return sym, nil
}

// FeedOf returns the feed bound to symbol.
func (r *Registry) FeedOf(symbol string) (common.Hash, error) {
	id, ok := r.bySymbol[symbol]
	if !ok {
		return common.Hash{}, fmt.Errorf("funding: symbol %s: %w", symbol, domain.ErrUnknownSymbol)
	}
	return id, nil
}

// Symbols returns the configured symbols in sorted order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// ParseFeedID parses a 32-byte hex feed id, with or without the 0x prefix.
func ParseFeedID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("funding: parse feed id %q: %w", s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("funding: feed id %q is %d bytes, want %d", s, len(b), common.HashLength)
	}
	return common.BytesToHash(b), nil
}
