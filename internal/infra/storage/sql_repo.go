package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

const defaultEventLimit = 500

// SQLRepository implements VaultRepository for SQLite and PostgreSQL.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLRepository wraps an initialized database.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

// DB exposes the pool for health checks.
func (r *SQLRepository) DB() *sql.DB { return r.db }

func (r *SQLRepository) q(query string) string { return rebind(r.dialect, query) }

func (r *SQLRepository) GetVaultClock(ctx context.Context, vaultID string) (vault.Clock, error) {
	var last int64
	var paused bool
	err := r.db.QueryRowContext(ctx, r.q(`SELECT last_tick_at, paused FROM vaults WHERE id = ?`), vaultID).Scan(&last, &paused)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Clock{}, ErrNotFound
	}
	if err != nil {
		return vault.Clock{}, fmt.Errorf("failed to read vault clock: %w", err)
	}
	return vault.Clock{VaultID: vaultID, LastTickAt: fromNanos(last), Paused: paused}, nil
}

func (r *SQLRepository) LoadVaultSnapshot(ctx context.Context, vaultID string) (*vault.Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer tx.Rollback()

	v, err := r.loadVault(ctx, tx, vaultID)
	if err != nil {
		return nil, err
	}
	s := &vault.Snapshot{Vault: v}

	if s.Rooms, err = loadRows[room.Room](ctx, tx, r.q(`SELECT data FROM rooms WHERE vault_id = ? ORDER BY id`), vaultID); err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	if s.Dwellers, err = loadRows[dweller.Dweller](ctx, tx, r.q(`SELECT data FROM dwellers WHERE vault_id = ? ORDER BY id`), vaultID); err != nil {
		return nil, fmt.Errorf("failed to load dwellers: %w", err)
	}
	if s.Relationships, err = loadRows[dweller.Relationship](ctx, tx, r.q(`SELECT data FROM relationships WHERE vault_id = ? ORDER BY a, b`), vaultID); err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	if s.Incidents, err = loadRows[activity.Incident](ctx, tx,
		r.q(`SELECT data FROM incidents WHERE vault_id = ? AND status = ? ORDER BY id`), vaultID, string(activity.IncidentActive)); err != nil {
		return nil, fmt.Errorf("failed to load incidents: %w", err)
	}
	if s.Explorations, err = loadRows[activity.ExplorationRun](ctx, tx,
		r.q(`SELECT data FROM explorations WHERE vault_id = ? AND status = ? ORDER BY id`), vaultID, string(activity.OutcomePending)); err != nil {
		return nil, fmt.Errorf("failed to load explorations: %w", err)
	}

	open := []interface{}{vaultID, string(activity.PhasePending), string(activity.PhaseInProgress)}
	if s.Trainings, err = loadRows[activity.TrainingSession](ctx, tx,
		r.q(`SELECT data FROM trainings WHERE vault_id = ? AND status IN (?, ?) ORDER BY id`), open...); err != nil {
		return nil, fmt.Errorf("failed to load trainings: %w", err)
	}
	if s.Pregnancies, err = loadRows[activity.Pregnancy](ctx, tx,
		r.q(`SELECT data FROM pregnancies WHERE vault_id = ? AND status IN (?, ?) ORDER BY id`), open...); err != nil {
		return nil, fmt.Errorf("failed to load pregnancies: %w", err)
	}
	if s.Quests, err = loadRows[activity.QuestParty](ctx, tx,
		r.q(`SELECT data FROM quest_parties WHERE vault_id = ? AND status IN (?, ?) ORDER BY id`), open...); err != nil {
		return nil, fmt.Errorf("failed to load quest parties: %w", err)
	}

	var used int64
	if err := tx.QueryRowContext(ctx, r.q(`SELECT COALESCE(SUM(size), 0) FROM stored_items WHERE vault_id = ?`), vaultID).Scan(&used); err != nil {
		return nil, fmt.Errorf("failed to sum storage: %w", err)
	}
	s.StorageUsed = int(used)

	return s, nil
}

func (r *SQLRepository) loadVault(ctx context.Context, tx *sql.Tx, vaultID string) (*vault.Vault, error) {
	var (
		v                  vault.Vault
		data               string
		created, last, ver int64
		paused, needsCheck bool
		name, reason       string
	)
	err := tx.QueryRowContext(ctx,
		r.q(`SELECT name, created_at, last_tick_at, version, paused, needs_review, review_reason, data FROM vaults WHERE id = ?`),
		vaultID).Scan(&name, &created, &last, &ver, &paused, &needsCheck, &reason, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vault: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vault: %w", err)
	}
	// columns win over the JSON copy
	v.ID = vaultID
	v.Name = name
	v.CreatedAt = fromNanos(created)
	v.LastTickAt = fromNanos(last)
	v.Version = ver
	v.Paused = paused
	v.NeedsReview = needsCheck
	v.ReviewReason = reason
	return &v, nil
}

func (r *SQLRepository) CommitVaultDeltas(ctx context.Context, cs *vault.Changeset, evts []events.VaultEvent) (err error) {
	v := cs.Vault
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		r.q(`UPDATE vaults SET name = ?, last_tick_at = ?, paused = ?, data = ?, version = version + 1 WHERE id = ? AND version = ?`),
		v.Name, v.LastTickAt.UnixNano(), v.Paused, string(data), cs.VaultID, cs.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update vault: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update vault: %w", err)
	}
	if n == 0 {
		var one int
		switch qerr := tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM vaults WHERE id = ?`), cs.VaultID).Scan(&one); {
		case errors.Is(qerr, sql.ErrNoRows):
			err = ErrNotFound
		case qerr != nil:
			err = fmt.Errorf("failed to check vault: %w", qerr)
		default:
			err = ErrStaleSnapshot
		}
		return err
	}

	if err = r.writeChildren(ctx, tx, cs); err != nil {
		return err
	}
	if err = r.appendEvents(ctx, tx, evts); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vault %s: %w", cs.VaultID, err)
	}
	return nil
}

func (r *SQLRepository) writeChildren(ctx context.Context, tx *sql.Tx, cs *vault.Changeset) error {
	for _, d := range cs.Dwellers {
		if err := r.upsert(ctx, tx, "dwellers", d.ID, cs.VaultID, string(d.Status), d); err != nil {
			return err
		}
	}
	for _, rel := range cs.Relationships {
		data, err := json.Marshal(rel)
		if err != nil {
			return fmt.Errorf("failed to marshal relationship: %w", err)
		}
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO relationships (vault_id, a, b, data) VALUES (?, ?, ?, ?)
			ON CONFLICT (vault_id, a, b) DO UPDATE SET data = excluded.data`), cs.VaultID, rel.A, rel.B, string(data))
		if err != nil {
			return fmt.Errorf("failed to write relationship: %w", err)
		}
	}
	for _, i := range cs.Incidents {
		if err := r.upsert(ctx, tx, "incidents", i.ID, cs.VaultID, string(i.Status), i); err != nil {
			return err
		}
	}
	for _, e := range cs.Explorations {
		if err := r.upsert(ctx, tx, "explorations", e.ID, cs.VaultID, string(e.Outcome), e); err != nil {
			return err
		}
	}
	for _, t := range cs.Trainings {
		if err := r.upsert(ctx, tx, "trainings", t.ID, cs.VaultID, string(t.Status), t); err != nil {
			return err
		}
	}
	for _, p := range cs.Pregnancies {
		if err := r.upsert(ctx, tx, "pregnancies", p.ID, cs.VaultID, string(p.Status), p); err != nil {
			return err
		}
	}
	for _, qp := range cs.Quests {
		if err := r.upsert(ctx, tx, "quest_parties", qp.ID, cs.VaultID, string(qp.Status), qp); err != nil {
			return err
		}
	}
	for _, it := range cs.StoredItems {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO stored_items (id, vault_id, size, data) VALUES (?, ?, ?, ?)`),
			it.ID, cs.VaultID, it.Size, string(data))
		if err != nil {
			return fmt.Errorf("failed to store item: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) upsert(ctx context.Context, tx *sql.Tx, table, id, vaultID, status string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s row: %w", table, err)
	}
	query := `INSERT INTO ` + table + ` (id, vault_id, status, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, data = excluded.data`
	if _, err := tx.ExecContext(ctx, r.q(query), id, vaultID, status, string(data)); err != nil {
		return fmt.Errorf("failed to write %s row %s: %w", table, id, err)
	}
	return nil
}

func (r *SQLRepository) appendEvents(ctx context.Context, tx *sql.Tx, evts []events.VaultEvent) error {
	for i, e := range evts {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO vault_events (id, vault_id, timestamp, seq, event_type, actor_id, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			e.ID, e.VaultID, e.Timestamp.UnixNano(), i, string(e.Type), e.ActorID, string(payload))
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) ListDueVaults(ctx context.Context, cutoff time.Time, limit int) ([]vault.Clock, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, last_tick_at FROM vaults WHERE paused = ? AND needs_review = ? AND last_tick_at <= ?
			ORDER BY last_tick_at, id LIMIT ?`),
		false, false, cutoff.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due vaults: %w", err)
	}
	defer rows.Close()

	var out []vault.Clock
	for rows.Next() {
		var c vault.Clock
		var last int64
		if err := rows.Scan(&c.VaultID, &last); err != nil {
			return nil, err
		}
		c.LastTickAt = fromNanos(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) CreateVault(ctx context.Context, s *vault.Snapshot) (err error) {
	v := s.Vault
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin create: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var one int
	switch qerr := tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM vaults WHERE id = ?`), v.ID).Scan(&one); {
	case qerr == nil:
		err = ErrVaultExists
		return err
	case !errors.Is(qerr, sql.ErrNoRows):
		err = fmt.Errorf("failed to check vault: %w", qerr)
		return err
	}

	_, err = tx.ExecContext(ctx,
		r.q(`INSERT INTO vaults (id, name, created_at, last_tick_at, paused, needs_review, review_reason, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		v.ID, v.Name, v.CreatedAt.UnixNano(), v.LastTickAt.UnixNano(), v.Paused, v.NeedsReview, v.ReviewReason, string(data))
	if err != nil {
		return fmt.Errorf("failed to insert vault: %w", err)
	}

	for _, rm := range s.Rooms {
		var rd []byte
		if rd, err = json.Marshal(rm); err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}
		if _, err = tx.ExecContext(ctx, r.q(`INSERT INTO rooms (id, vault_id, data) VALUES (?, ?, ?)`), rm.ID, v.ID, string(rd)); err != nil {
			return fmt.Errorf("failed to insert room %s: %w", rm.ID, err)
		}
	}

	cs := &vault.Changeset{
		VaultID:       v.ID,
		Dwellers:      s.Dwellers,
		Relationships: s.Relationships,
		Incidents:     s.Incidents,
		Explorations:  s.Explorations,
		Trainings:     s.Trainings,
		Pregnancies:   s.Pregnancies,
		Quests:        s.Quests,
	}
	if err = r.writeChildren(ctx, tx, cs); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit new vault: %w", err)
	}
	return nil
}

func (r *SQLRepository) FlagForReview(ctx context.Context, vaultID, reason string) error {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE vaults SET needs_review = ?, review_reason = ? WHERE id = ?`), true, reason, vaultID)
	if err != nil {
		return fmt.Errorf("failed to flag vault: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) ListEvents(ctx context.Context, vaultID string, since time.Time, limit int) ([]events.VaultEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, vault_id, timestamp, event_type, actor_id, payload FROM vault_events
			WHERE vault_id = ? AND timestamp >= ? ORDER BY timestamp, seq LIMIT ?`),
		vaultID, since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []events.VaultEvent
	for rows.Next() {
		var (
			e       events.VaultEvent
			ts      int64
			typ     string
			payload string
		)
		if err := rows.Scan(&e.ID, &e.VaultID, &ts, &typ, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = fromNanos(ts)
		e.Type = events.EventType(typ)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func loadRows[T any](ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]*T, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
