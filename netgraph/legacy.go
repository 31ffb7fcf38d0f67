package netgraph

import (
	"bufio"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/milosgajdos83/cn24/tensor"
)

// LoadLegacyParameters reads a pre-PAR parameter stream: a bare sequence of
// serialized tensors with no node names attached (spec.md §8 Scenario F).
// Each tensor is assigned an auto-generated node name "node1".."nodeN",
// suffixed with a short UUID so re-migrating the same legacy file twice
// into one process never collides on name.
//
// It returns the recovered tensors keyed by those names, plus the names in
// stream order; no graph is touched. ApplyLegacyParameters then copies them
// positionally into an already-built graph.
func LoadLegacyParameters(r io.Reader) (map[string]*tensor.Tensor, []string, error) {
	migrationID := uuid.NewString()[:8]
	params := make(map[string]*tensor.Tensor)
	var order []string

	br := bufio.NewReader(r)
	for i := 1; ; i++ {
		// Peek rather than rely on tensor.Deserialize's own EOF, which
		// wraps cnerr.ErrIO and so can't be distinguished from a
		// genuinely truncated stream via errors.Is(err, io.EOF).
		if _, err := br.Peek(1); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("netgraph: legacy parameter %d: %w", i, err)
		}
		t, err := tensor.Deserialize(br)
		if err != nil {
			return nil, nil, fmt.Errorf("netgraph: legacy parameter %d: %w", i, err)
		}
		name := fmt.Sprintf("node%d-%s", i, migrationID)
		params[name] = t
		order = append(order, name)
	}
	return params, order, nil
}

// ApplyLegacyParameters copies each recovered legacy tensor into the
// matching positional parameter of g's topological order, by index rather
// than name (the legacy stream carries no names to match against).
func (g *NetGraph) ApplyLegacyParameters(params map[string]*tensor.Tensor, order []string) error {
	if err := g.ensureOrder(); err != nil {
		return err
	}
	idx := 0
	for _, name := range g.order {
		n := g.nodes[name]
		for _, p := range n.Layer.Parameters() {
			if idx >= len(order) {
				return fmt.Errorf("netgraph: legacy stream has fewer parameters than graph nodes require")
			}
			t := params[order[idx]]
			idx++
			if err := p.Data.ResizeToMatch(t); err != nil {
				return err
			}
			copy(p.Data.Data(), t.Data())
		}
	}
	return nil
}
