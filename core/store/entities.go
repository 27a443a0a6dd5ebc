package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adalundhe/hindsight/core/memory"
)

// CreateEntity inserts a new canonical entity. Fails on a case-folded name
// collision within the bank.
func (s *Store) CreateEntity(ctx context.Context, e *memory.Entity) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, bank_id, canonical_name, normalized_name, entity_type)
			VALUES (?, ?, ?, ?, ?)
		`, e.ID, e.BankID, e.CanonicalName, memory.NormalizeName(e.CanonicalName), string(e.EntityType))
		if err != nil {
			return fmt.Errorf("insert entity %q: %w", e.CanonicalName, err)
		}
		for _, alias := range e.Aliases {
			if err := insertAliasRow(ctx, tx, e.ID, alias); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func insertAliasRow(ctx context.Context, tx *sql.Tx, entityID, alias string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entity_aliases (entity_id, alias, normalized_alias)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id, normalized_alias) DO NOTHING
	`, entityID, alias, memory.NormalizeName(alias))
	if err != nil {
		return fmt.Errorf("insert alias %q: %w", alias, err)
	}
	return nil
}

// AddAlias records a new alias for an entity.
func (s *Store) AddAlias(ctx context.Context, entityID, alias string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_aliases (entity_id, alias, normalized_alias)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id, normalized_alias) DO NOTHING
	`, entityID, alias, memory.NormalizeName(alias))
	if err != nil {
		return fmt.Errorf("add alias %q: %w", alias, err)
	}
	return nil
}

// FindEntityByName returns the bank's entity with the given case-folded
// canonical name or alias, or nil.
func (s *Store) FindEntityByName(ctx context.Context, bankID, name string) (*memory.Entity, error) {
	norm := memory.NormalizeName(name)

	row := s.db.QueryRowContext(ctx, `
		SELECT id, bank_id, canonical_name, entity_type FROM entities
		WHERE bank_id = ? AND normalized_name = ?
	`, bankID, norm)
	e, err := scanEntity(row)
	if err == nil {
		return s.loadAliases(ctx, e)
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT e.id, e.bank_id, e.canonical_name, e.entity_type
		FROM entities e JOIN entity_aliases a ON a.entity_id = e.id
		WHERE e.bank_id = ? AND a.normalized_alias = ?
		LIMIT 1
	`, bankID, norm)
	e, err = scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.loadAliases(ctx, e)
}

// EntitiesForBank lists every entity in a bank, for resolution candidate
// scans.
func (s *Store) EntitiesForBank(ctx context.Context, bankID string) ([]*memory.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bank_id, canonical_name, entity_type FROM entities WHERE bank_id = ?
	`, bankID)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []*memory.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range entities {
		if _, err := s.loadAliases(ctx, e); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// GetEntity fetches one entity with aliases.
func (s *Store) GetEntity(ctx context.Context, id string) (*memory.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bank_id, canonical_name, entity_type FROM entities WHERE id = ?
	`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.loadAliases(ctx, e)
}

func (s *Store) loadAliases(ctx context.Context, e *memory.Entity) (*memory.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alias FROM entity_aliases WHERE entity_id = ?`, e.ID)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		e.Aliases = append(e.Aliases, alias)
	}
	return e, rows.Err()
}

// LinkUnitEntity records that a unit mentions an entity.
func (s *Store) LinkUnitEntity(ctx context.Context, unitID, entityID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unit_entities (unit_id, entity_id) VALUES (?, ?)
		ON CONFLICT(unit_id, entity_id) DO NOTHING
	`, unitID, entityID)
	if err != nil {
		return fmt.Errorf("link unit %s to entity %s: %w", unitID, entityID, err)
	}
	return nil
}

// UnitsMentioning returns the ids of units linked to an entity.
func (s *Store) UnitsMentioning(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT unit_id FROM unit_entities WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query units mentioning %s: %w", entityID, err)
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

// EntitiesForUnits returns the distinct entities mentioned by the given
// units.
func (s *Store) EntitiesForUnits(ctx context.Context, unitIDs []string) ([]*memory.Entity, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT e.id, e.bank_id, e.canonical_name, e.entity_type
		FROM entities e JOIN unit_entities ue ON ue.entity_id = e.id
		WHERE ue.unit_id IN (` + placeholders(len(unitIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(unitIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query entities for units: %w", err)
	}
	defer rows.Close()

	var entities []*memory.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// ObservationsForEntity returns the current observation units linked to an
// entity, oldest first.
func (s *Store) ObservationsForEntity(ctx context.Context, entityID string) ([]*memory.MemoryUnit, error) {
	query := selectUnitColumns + `
		FROM memory_units m JOIN unit_entities ue ON ue.unit_id = m.id
		WHERE ue.entity_id = ? AND m.fact_type = 'observation'
		ORDER BY m.mentioned_at ASC, m.id ASC`
	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
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

// ReplaceObservations atomically swaps an entity's observation units for the
// given set and links them to the entity.
func (s *Store) ReplaceObservations(ctx context.Context, entityID string, units []*memory.MemoryUnit) error {
	old, err := s.ObservationsForEntity(ctx, entityID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range old {
			if _, err := tx.ExecContext(ctx, `DELETE FROM memory_units WHERE id = ?`, u.ID); err != nil {
				return fmt.Errorf("delete observation %s: %w", u.ID, err)
			}
		}
		for _, u := range units {
			if err := u.Validate(); err != nil {
				return fmt.Errorf("observation %s: %w", u.ID, err)
			}
			if err := insertUnitRow(ctx, tx, u); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO unit_entities (unit_id, entity_id) VALUES (?, ?)
			`, u.ID, entityID); err != nil {
				return fmt.Errorf("link observation %s: %w", u.ID, err)
			}
		}
		return nil
	})
	return err
}

// OpinionsMentioning returns opinion units linked to any of the entities.
func (s *Store) OpinionsMentioning(ctx context.Context, entityIDs []string) ([]*memory.MemoryUnit, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	query := selectUnitColumns + `
		FROM memory_units m JOIN unit_entities ue ON ue.unit_id = m.id
		WHERE m.fact_type = 'opinion' AND ue.entity_id IN (` + placeholders(len(entityIDs)) + `)
		GROUP BY m.id`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(entityIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query opinions: %w", err)
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

func scanEntity(row rowScanner) (*memory.Entity, error) {
	var (
		e  memory.Entity
		et string
	)
	if err := row.Scan(&e.ID, &e.BankID, &e.CanonicalName, &et); err != nil {
		return nil, err
	}
	e.EntityType = memory.EntityType(et)
	return &e, nil
}
