package gateway

import (
	"context"
	"fmt"

	"zkpool/pkg/field"
	"zkpool/pkg/merkle"
)

// ReplayPoolTree rebuilds the pool tree from the chain's commitment events
// and returns it together with the leaf index of every commitment, keyed by
// field.Hex. Callers use it to refresh a stale root and its proofs after a
// Build fails with a root mismatch.
func ReplayPoolTree(ctx context.Context, gw ChainGateway, levels int) (*merkle.Tree, map[string]uint64, error) {
	events, err := gw.GetPoolEvents(ctx, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("reading pool events: %w", err)
	}

	tree := merkle.New(levels)
	indexes := make(map[string]uint64)
	for _, ev := range events {
		if ev.Topic != TopicCommitment || len(ev.Data) == 0 {
			continue
		}
		index, err := tree.Insert(ev.Data[0])
		if err != nil {
			return nil, nil, fmt.Errorf("replaying commitment events: %w", err)
		}
		indexes[field.Hex(ev.Data[0])] = index
	}
	return tree, indexes, nil
}
