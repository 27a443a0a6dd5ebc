package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/hindsight/core/embedder"
	"github.com/adalundhe/hindsight/core/memory"
	"github.com/adalundhe/hindsight/core/temporal"
)

// ScoredUnit pairs a unit with a strategy-assigned relevance score.
type ScoredUnit struct {
	Unit  *memory.MemoryUnit
	Score float64
}

// InsertUnits validates and persists a batch of units in one transaction and
// indexes searchable units in the full-text index.
func (s *Store) InsertUnits(ctx context.Context, units []*memory.MemoryUnit) error {
	for _, u := range units {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("unit %s: %w", u.ID, err)
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range units {
			if err := insertUnitRow(ctx, tx, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, u := range units {
		if u.FactType == memory.FactObservation {
			continue
		}
		if err := s.indexUnit(u); err != nil {
			s.logger.Warn("full-text index update failed", "unit_id", u.ID, "error", err)
		}
	}
	return nil
}

func insertUnitRow(ctx context.Context, tx *sql.Tx, u *memory.MemoryUnit) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_units
			(id, bank_id, text, embedding, occurred_start, occurred_end,
			 mentioned_at, context, document_id, fact_type, confidence_score, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.BankID, u.Text, encodeVector(u.Embedding),
		nullableUnix(u.OccurredStart), nullableUnix(u.OccurredEnd),
		u.MentionedAt.UTC().Unix(), u.Context, nullableString(u.DocumentID),
		string(u.FactType), u.ConfidenceScore, u.AccessCount)
	if err != nil {
		return fmt.Errorf("insert unit %s: %w", u.ID, err)
	}
	return nil
}

// GetMany fetches units by id, preserving input order. Missing ids are
// silently skipped.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*memory.MemoryUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := selectUnitColumns + ` FROM memory_units WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*memory.MemoryUnit, len(ids))
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*memory.MemoryUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// GetUnit fetches one unit.
func (s *Store) GetUnit(ctx context.Context, id string) (*memory.MemoryUnit, error) {
	units, err := s.GetMany(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, ErrUnitNotFound
	}
	return units[0], nil
}

// VectorKNN returns the k nearest searchable units by cosine similarity,
// filtered to the given bank and fact types, with similarity >= minSim.
// Observations never match.
func (s *Store) VectorKNN(ctx context.Context, bankID string, types []memory.FactType, queryVec []float32, k int, minSim float64) ([]ScoredUnit, error) {
	if k <= 0 {
		return nil, nil
	}

	query, args := searchableUnitsQuery(bankID, types)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var scored []ScoredUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		sim := embedder.Cosine(queryVec, u.Embedding)
		if sim >= minSim {
			scored = append(scored, ScoredUnit{Unit: u, Score: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Unit.ID < scored[j].Unit.ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// RangeLookup returns searchable units whose closed occurred interval
// overlaps the half-open query interval. Units without temporal metadata
// never match; a unit with one bound is treated as a point in time.
func (s *Store) RangeLookup(ctx context.Context, bankID string, types []memory.FactType, interval temporal.Interval) ([]*memory.MemoryUnit, error) {
	base, args := searchableUnitsQuery(bankID, types)
	query := base + `
		AND (occurred_start IS NOT NULL OR occurred_end IS NOT NULL)
		AND COALESCE(occurred_start, occurred_end) < ?
		AND COALESCE(occurred_end, occurred_start) >= ?`
	args = append(args, interval.End.UTC().Unix(), interval.Start.UTC().Unix())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range lookup: %w", err)
	}
	defer rows.Close()

	var units []*memory.MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// BumpAccess increments access counts for the given units. Best-effort:
// failures are logged, never surfaced.
func (s *Store) BumpAccess(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	query := `UPDATE memory_units SET access_count = access_count + 1 WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := s.db.ExecContext(ctx, query, toAnySlice(ids)...); err != nil {
		s.logger.Warn("access count bump failed", "count", len(ids), "error", err)
	}
}

// ExistsExactText reports whether the bank already holds a non-observation
// unit with this exact text. Used for ingest deduplication.
func (s *Store) ExistsExactText(ctx context.Context, bankID, text string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM memory_units
		WHERE bank_id = ? AND text = ? AND fact_type != 'observation'
		LIMIT 1
	`, bankID, text).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return true, nil
}

// RecentUnits returns searchable units whose mentioned_at falls within window
// of ref on either side, excluding the given ids. Used for temporal edges.
func (s *Store) RecentUnits(ctx context.Context, bankID string, ref time.Time, window time.Duration, excludeIDs []string) ([]*memory.MemoryUnit, error) {
	query := selectUnitColumns + `
		FROM memory_units
		WHERE bank_id = ? AND fact_type != 'observation'
		AND mentioned_at >= ? AND mentioned_at <= ?`
	args := []any{bankID, ref.Add(-window).UTC().Unix(), ref.Add(window).UTC().Unix()}

	if len(excludeIDs) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(excludeIDs)) + `)`
		args = append(args, toAnySlice(excludeIDs)...)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent units: %w", err)
	}
	defer rows.Close()

	var units []*memory.MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// UpdateOpinion rewrites an opinion's text, confidence, and embedding during
// reinforcement.
func (s *Store) UpdateOpinion(ctx context.Context, id, text string, confidence float64, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_units SET text = ?, confidence_score = ?, embedding = ?
		WHERE id = ? AND fact_type = 'opinion'
	`, text, confidence, encodeVector(vec), id)
	if err != nil {
		return fmt.Errorf("update opinion %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrUnitNotFound
	}

	u, err := s.GetUnit(ctx, id)
	if err != nil {
		return err
	}
	return s.indexUnit(u)
}

// =============================================================================
// Documents
// =============================================================================

// ReplaceDocument upserts a document row and removes all units previously
// ingested under the same document id. Edge and entity-link rows cascade.
// Returns the removed unit ids.
func (s *Store) ReplaceDocument(ctx context.Context, doc memory.Document) ([]string, error) {
	removed, err := s.unitIDsForDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if len(removed) > 0 {
			query := `DELETE FROM memory_units WHERE id IN (` + placeholders(len(removed)) + `)`
			if _, err := tx.ExecContext(ctx, query, toAnySlice(removed)...); err != nil {
				return fmt.Errorf("delete document units: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, bank_id, content) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET bank_id = excluded.bank_id, content = excluded.content
		`, doc.ID, doc.BankID, doc.Content)
		if err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range removed {
		if err := s.index.Delete(id); err != nil {
			s.logger.Warn("full-text index delete failed", "unit_id", id, "error", err)
		}
	}
	return removed, nil
}

// DeleteDocument removes a document and all its units.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	removed, err := s.unitIDsForDocument(ctx, documentID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if len(removed) > 0 {
			query := `DELETE FROM memory_units WHERE id IN (` + placeholders(len(removed)) + `)`
			if _, err := tx.ExecContext(ctx, query, toAnySlice(removed)...); err != nil {
				return fmt.Errorf("delete document units: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range removed {
		if err := s.index.Delete(id); err != nil {
			s.logger.Warn("full-text index delete failed", "unit_id", id, "error", err)
		}
	}
	return nil
}

func (s *Store) unitIDsForDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM memory_units WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query document units: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// Row helpers
// =============================================================================

const selectUnitColumns = `SELECT id, bank_id, text, embedding, occurred_start, occurred_end,
	mentioned_at, context, document_id, fact_type, confidence_score, access_count`

func searchableUnitsQuery(bankID string, types []memory.FactType) (string, []any) {
	query := selectUnitColumns + ` FROM memory_units WHERE bank_id = ? AND fact_type != 'observation'`
	args := []any{bankID}

	if len(types) > 0 {
		query += ` AND fact_type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*memory.MemoryUnit, error) {
	var (
		u           memory.MemoryUnit
		blob        []byte
		occStart    sql.NullInt64
		occEnd      sql.NullInt64
		mentionedAt int64
		documentID  sql.NullString
		factType    string
		confidence  sql.NullFloat64
	)

	err := row.Scan(&u.ID, &u.BankID, &u.Text, &blob, &occStart, &occEnd,
		&mentionedAt, &u.Context, &documentID, &factType, &confidence, &u.AccessCount)
	if err != nil {
		return nil, fmt.Errorf("scan unit: %w", err)
	}

	u.Embedding, err = decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", u.ID, err)
	}
	u.MentionedAt = time.Unix(mentionedAt, 0).UTC()
	u.FactType = memory.FactType(factType)
	if occStart.Valid {
		t := time.Unix(occStart.Int64, 0).UTC()
		u.OccurredStart = &t
	}
	if occEnd.Valid {
		t := time.Unix(occEnd.Int64, 0).UTC()
		u.OccurredEnd = &t
	}
	if documentID.Valid {
		u.DocumentID = documentID.String
	}
	if confidence.Valid {
		v := confidence.Float64
		u.ConfidenceScore = &v
	}
	return &u, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
