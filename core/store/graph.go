package store

import (
	"context"
	"fmt"

	"github.com/adalundhe/hindsight/core/memory"
)

// AddEdge validates and inserts one edge. Duplicate (src, dst, type) edges
// are overwritten with the new weight.
func (s *Store) AddEdge(ctx context.Context, edge memory.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (src_id, dst_id, link_type, weight, causal_kind)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(src_id, dst_id, link_type) DO UPDATE SET
			weight = excluded.weight, causal_kind = excluded.causal_kind
	`, edge.SrcID, edge.DstID, string(edge.LinkType), edge.Weight,
		nullableString(string(edge.CausalKind)))
	if err != nil {
		return fmt.Errorf("insert edge %s->%s (%s): %w", edge.SrcID, edge.DstID, edge.LinkType, err)
	}
	return nil
}

// AddEdges inserts a batch of edges one at a time through AddEdge. The batch
// is not one transaction: it stops at the first invalid edge or failed
// insert, and edges inserted before that point are kept.
func (s *Store) AddEdges(ctx context.Context, edges []memory.Edge) error {
	for _, e := range edges {
		if err := s.AddEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Neighbors returns the outgoing edges of a unit, optionally filtered by
// link type.
func (s *Store) Neighbors(ctx context.Context, unitID string, linkTypes ...memory.LinkType) ([]memory.Neighbor, error) {
	query := `SELECT dst_id, link_type, weight, causal_kind FROM edges WHERE src_id = ?`
	args := []any{unitID}

	if len(linkTypes) > 0 {
		query += ` AND link_type IN (` + placeholders(len(linkTypes)) + `)`
		for _, lt := range linkTypes {
			args = append(args, string(lt))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query neighbors of %s: %w", unitID, err)
	}
	defer rows.Close()

	var neighbors []memory.Neighbor
	for rows.Next() {
		var (
			n    memory.Neighbor
			lt   string
			kind *string
		)
		if err := rows.Scan(&n.DstID, &lt, &n.Weight, &kind); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		n.LinkType = memory.LinkType(lt)
		if kind != nil {
			n.CausalKind = memory.CausalKind(*kind)
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

// RemoveEdgesFor deletes every edge touching the unit.
func (s *Store) RemoveEdgesFor(ctx context.Context, unitID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE src_id = ? OR dst_id = ?`, unitID, unitID)
	if err != nil {
		return fmt.Errorf("remove edges for %s: %w", unitID, err)
	}
	return nil
}

// EdgeCount reports the number of stored edges, for diagnostics and tests.
func (s *Store) EdgeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
