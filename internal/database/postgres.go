/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
)

// PostgresDB is the production driver: a pgx connection pool for
// transactional work, fronted by the Tx/DB interfaces the rest of the
// engine programs against.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the pool is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "connect to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "ping postgres")
	}
	return &PostgresDB{pool: pool}, nil
}

func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "begin transaction")
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "commit transaction")
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	_ = t.tx.Rollback(ctx)
	return nil
}

func (t *postgresTx) GetUOWForUpdate(ctx context.Context, uowID string) (*UOW, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT uow_id, instance_id, parent_id, status, interaction_count, max_interactions,
		       current_interaction_id, lease_actor_id, last_heartbeat, content_hash,
		       child_count, finished_child_count, priority, created_at
		FROM uows WHERE uow_id = $1 FOR UPDATE`, uowID)

	var u UOW
	if err := row.Scan(&u.UOWID, &u.InstanceID, &u.ParentID, &u.Status, &u.InteractionCount,
		&u.MaxInteractions, &u.CurrentInteractionID, &u.LeaseActorID, &u.LastHeartbeat,
		&u.ContentHash, &u.ChildCount, &u.FinishedChildCount, &u.Priority, &u.CreatedAt); err != nil {
		return nil, ErrNotFound("uow")
	}
	return &u, nil
}

func (t *postgresTx) SaveUOW(ctx context.Context, u *UOW) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE uows SET status=$2, interaction_count=$3, max_interactions=$4,
		  current_interaction_id=$5, lease_actor_id=$6, last_heartbeat=$7,
		  content_hash=$8, child_count=$9, finished_child_count=$10, priority=$11
		WHERE uow_id=$1`,
		u.UOWID, u.Status, u.InteractionCount, u.MaxInteractions, u.CurrentInteractionID,
		u.LeaseActorID, u.LastHeartbeat, u.ContentHash, u.ChildCount, u.FinishedChildCount, u.Priority)
	if err != nil {
		return engineerrors.NewDatabaseError("save uow", err)
	}
	return nil
}

func (t *postgresTx) CreateUOW(ctx context.Context, u *UOW) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO uows (uow_id, instance_id, parent_id, status, interaction_count,
		  max_interactions, current_interaction_id, lease_actor_id, last_heartbeat,
		  content_hash, child_count, finished_child_count, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		u.UOWID, u.InstanceID, u.ParentID, u.Status, u.InteractionCount, u.MaxInteractions,
		u.CurrentInteractionID, u.LeaseActorID, u.LastHeartbeat, u.ContentHash, u.ChildCount,
		u.FinishedChildCount, u.Priority, u.CreatedAt)
	if err != nil {
		return engineerrors.NewDatabaseError("create uow", err)
	}
	return nil
}

func (t *postgresTx) PutAttribute(ctx context.Context, attr Attribute) (Attribute, error) {
	valueJSON, err := json.Marshal(attr.Value)
	if err != nil {
		return Attribute{}, engineerrors.NewValidationError("attribute value is not JSON-serializable")
	}

	row := t.tx.QueryRow(ctx, `
		INSERT INTO uow_attributes (uow_id, key, version, value, owner_actor_id, author_actor_id, reasoning, created_at)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6, $7
		FROM uow_attributes WHERE uow_id = $1 AND key = $2
		RETURNING version, created_at`,
		attr.UOWID, attr.Key, valueJSON, attr.OwnerActorID, attr.AuthorActorID, attr.Reasoning, time.Now().UTC())

	if err := row.Scan(&attr.Version, &attr.CreatedAt); err != nil {
		return Attribute{}, engineerrors.NewDatabaseError("put attribute", err)
	}
	return attr, nil
}

func (t *postgresTx) LatestAttributes(ctx context.Context, uowID string, viewerActorID string) (map[string]any, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT ON (key, (owner_actor_id IS NULL)) key, value, owner_actor_id
		FROM uow_attributes
		WHERE uow_id = $1 AND (owner_actor_id IS NULL OR owner_actor_id = $2)
		ORDER BY key, (owner_actor_id IS NULL), version DESC`, uowID, viewerActorID)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("latest attributes", err)
	}
	defer rows.Close()

	global := map[string]any{}
	personal := map[string]any{}
	for rows.Next() {
		var key string
		var raw []byte
		var owner *string
		if err := rows.Scan(&key, &raw, &owner); err != nil {
			return nil, engineerrors.NewDatabaseError("scan attribute", err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, engineerrors.NewDatabaseError("decode attribute value", err)
		}
		if owner == nil {
			global[key] = v
		} else {
			personal[key] = v
		}
	}
	for k, v := range personal {
		global[k] = v
	}
	return global, rows.Err()
}

func (t *postgresTx) AllAttributeVersions(ctx context.Context, uowID string) ([]Attribute, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT key, version, value, owner_actor_id, author_actor_id, reasoning, created_at
		FROM uow_attributes WHERE uow_id = $1 ORDER BY created_at ASC, version ASC`, uowID)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("list attribute versions", err)
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		var a Attribute
		var raw []byte
		a.UOWID = uowID
		if err := rows.Scan(&a.Key, &a.Version, &raw, &a.OwnerActorID, &a.AuthorActorID, &a.Reasoning, &a.CreatedAt); err != nil {
			return nil, engineerrors.NewDatabaseError("scan attribute version", err)
		}
		if err := json.Unmarshal(raw, &a.Value); err != nil {
			return nil, engineerrors.NewDatabaseError("decode attribute value", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *postgresTx) AppendHistory(ctx context.Context, row HistoryRow) error {
	metaJSON, err := json.Marshal(row.Metadata)
	if err != nil {
		return engineerrors.NewValidationError("history metadata is not JSON-serializable")
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO uow_history (uow_id, seq, from_status, to_status, actor_id, event_type,
		  reason, prev_content_hash, new_content_hash, timestamp_utc, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (uow_id, seq) DO NOTHING`,
		row.UOWID, row.Seq, row.FromStatus, row.ToStatus, row.ActorID, row.EventType,
		row.Reason, row.PrevContentHash, row.NewContentHash, row.TimestampUTC, metaJSON)
	if err != nil {
		return engineerrors.NewDatabaseError("append history", err)
	}
	return nil
}

func (t *postgresTx) ListHistory(ctx context.Context, uowID string) ([]HistoryRow, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT seq, from_status, to_status, actor_id, event_type, reason,
		       prev_content_hash, new_content_hash, timestamp_utc, metadata
		FROM uow_history WHERE uow_id = $1 ORDER BY seq ASC`, uowID)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("list history", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		var raw []byte
		h.UOWID = uowID
		if err := rows.Scan(&h.Seq, &h.FromStatus, &h.ToStatus, &h.ActorID, &h.EventType, &h.Reason,
			&h.PrevContentHash, &h.NewContentHash, &h.TimestampUTC, &raw); err != nil {
			return nil, engineerrors.NewDatabaseError("scan history row", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &h.Metadata); err != nil {
				return nil, engineerrors.NewDatabaseError("decode history metadata", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *postgresTx) FindEligibleUOWs(ctx context.Context, interactionIDs []string) ([]UOW, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT uow_id, instance_id, parent_id, status, interaction_count, max_interactions,
		       current_interaction_id, lease_actor_id, last_heartbeat, content_hash,
		       child_count, finished_child_count, priority, created_at
		FROM uows
		WHERE status = 'PENDING' AND current_interaction_id = ANY($1)
		ORDER BY priority DESC, created_at ASC`, interactionIDs)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("find eligible uows", err)
	}
	return scanUOWs(rows)
}

func (t *postgresTx) FindStaleActive(ctx context.Context, olderThan time.Time) ([]UOW, error) {
	return t.findByStatusAndAge(ctx, StatusActive, olderThan)
}

func (t *postgresTx) FindStaleZombiedSoft(ctx context.Context, olderThan time.Time) ([]UOW, error) {
	return t.findByStatusAndAge(ctx, StatusZombiedSoft, olderThan)
}

func (t *postgresTx) findByStatusAndAge(ctx context.Context, status UOWStatus, olderThan time.Time) ([]UOW, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT uow_id, instance_id, parent_id, status, interaction_count, max_interactions,
		       current_interaction_id, lease_actor_id, last_heartbeat, content_hash,
		       child_count, finished_child_count, priority, created_at
		FROM uows WHERE status = $1 AND last_heartbeat < $2`, status, olderThan)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("find stale uows", err)
	}
	return scanUOWs(rows)
}

func (t *postgresTx) ListUOWsByInstanceAndStatus(ctx context.Context, instanceID string, status UOWStatus) ([]UOW, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT uow_id, instance_id, parent_id, status, interaction_count, max_interactions,
		       current_interaction_id, lease_actor_id, last_heartbeat, content_hash,
		       child_count, finished_child_count, priority, created_at
		FROM uows WHERE instance_id = $1 AND status = $2`, instanceID, status)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("list uows by instance and status", err)
	}
	return scanUOWs(rows)
}

func (t *postgresTx) ListChildren(ctx context.Context, parentUOWID string) ([]UOW, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT uow_id, instance_id, parent_id, status, interaction_count, max_interactions,
		       current_interaction_id, lease_actor_id, last_heartbeat, content_hash,
		       child_count, finished_child_count, priority, created_at
		FROM uows WHERE parent_id = $1`, parentUOWID)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("list children", err)
	}
	return scanUOWs(rows)
}

func scanUOWs(rows pgx.Rows) ([]UOW, error) {
	defer rows.Close()
	var out []UOW
	for rows.Next() {
		var u UOW
		if err := rows.Scan(&u.UOWID, &u.InstanceID, &u.ParentID, &u.Status, &u.InteractionCount,
			&u.MaxInteractions, &u.CurrentInteractionID, &u.LeaseActorID, &u.LastHeartbeat,
			&u.ContentHash, &u.ChildCount, &u.FinishedChildCount, &u.Priority, &u.CreatedAt); err != nil {
			return nil, engineerrors.NewDatabaseError("scan uow row", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *postgresTx) GetTemplate(ctx context.Context, templateID string) (*Template, error) {
	row := t.tx.QueryRow(ctx, `SELECT template_id, name, version, description FROM templates WHERE template_id = $1`, templateID)
	var tpl Template
	if err := row.Scan(&tpl.TemplateID, &tpl.Name, &tpl.Version, &tpl.Description); err != nil {
		return nil, ErrNotFound("template")
	}
	return &tpl, nil
}

func (t *postgresTx) SaveTemplate(ctx context.Context, tpl *Template) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO templates (template_id, name, version, description) VALUES ($1,$2,$3,$4)
		ON CONFLICT (template_id) DO UPDATE SET name=$2, version=$3, description=$4`,
		tpl.TemplateID, tpl.Name, tpl.Version, tpl.Description)
	if err != nil {
		return engineerrors.NewDatabaseError("save template", err)
	}
	return nil
}

func (t *postgresTx) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	row := t.tx.QueryRow(ctx, `SELECT instance_id, template_id, created_at FROM instances WHERE instance_id = $1`, instanceID)
	var i Instance
	if err := row.Scan(&i.InstanceID, &i.TemplateID, &i.CreatedAt); err != nil {
		return nil, ErrNotFound("instance")
	}
	return &i, nil
}

func (t *postgresTx) SaveInstance(ctx context.Context, i *Instance) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO instances (instance_id, template_id, created_at) VALUES ($1,$2,$3)`,
		i.InstanceID, i.TemplateID, i.CreatedAt)
	if err != nil {
		return engineerrors.NewDatabaseError("save instance", err)
	}
	return nil
}

func (t *postgresTx) ListRoles(ctx context.Context, instanceID string) ([]Role, error) {
	rows, err := t.tx.Query(ctx, `SELECT role_id, instance_id, name, kind, strategy FROM roles WHERE instance_id = $1`, instanceID)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("list roles", err)
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.RoleID, &r.InstanceID, &r.Name, &r.Kind, &r.Strategy); err != nil {
			return nil, engineerrors.NewDatabaseError("scan role", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *postgresTx) SaveRole(ctx context.Context, r *Role) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO roles (role_id, instance_id, name, kind, strategy) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (role_id) DO UPDATE SET name=$3, kind=$4, strategy=$5`,
		r.RoleID, r.InstanceID, r.Name, r.Kind, r.Strategy)
	if err != nil {
		return engineerrors.NewDatabaseError("save role", err)
	}
	return nil
}

func (t *postgresTx) ListInteractions(ctx context.Context, instanceID string) ([]Interaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT interaction_id, instance_id, name, description FROM interactions WHERE instance_id = $1`, instanceID)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("list interactions", err)
	}
	defer rows.Close()
	var out []Interaction
	for rows.Next() {
		var i Interaction
		if err := rows.Scan(&i.InteractionID, &i.InstanceID, &i.Name, &i.Description); err != nil {
			return nil, engineerrors.NewDatabaseError("scan interaction", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (t *postgresTx) SaveInteraction(ctx context.Context, i *Interaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO interactions (interaction_id, instance_id, name, description) VALUES ($1,$2,$3,$4)`,
		i.InteractionID, i.InstanceID, i.Name, i.Description)
	if err != nil {
		return engineerrors.NewDatabaseError("save interaction", err)
	}
	return nil
}

func (t *postgresTx) ListComponents(ctx context.Context, instanceID string) ([]Component, error) {
	rows, err := t.tx.Query(ctx, `SELECT component_id, instance_id, role_id, interaction_id, direction, guard_id FROM components WHERE instance_id = $1`, instanceID)
	if err != nil {
		return nil, engineerrors.NewDatabaseError("list components", err)
	}
	defer rows.Close()
	var out []Component
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.ComponentID, &c.InstanceID, &c.RoleID, &c.InteractionID, &c.Direction, &c.GuardID); err != nil {
			return nil, engineerrors.NewDatabaseError("scan component", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *postgresTx) SaveComponent(ctx context.Context, c *Component) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO components (component_id, instance_id, role_id, interaction_id, direction, guard_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ComponentID, c.InstanceID, c.RoleID, c.InteractionID, c.Direction, c.GuardID)
	if err != nil {
		return engineerrors.NewDatabaseError("save component", err)
	}
	return nil
}

func (t *postgresTx) GetGuard(ctx context.Context, guardID string) (*Guard, error) {
	row := t.tx.QueryRow(ctx, `SELECT guard_id, instance_id, type, policy_json FROM guards WHERE guard_id = $1`, guardID)
	var g Guard
	if err := row.Scan(&g.GuardID, &g.InstanceID, &g.Type, &g.PolicyJSON); err != nil {
		return nil, ErrNotFound("guard")
	}
	return &g, nil
}

func (t *postgresTx) SaveGuard(ctx context.Context, g *Guard) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO guards (guard_id, instance_id, type, policy_json) VALUES ($1,$2,$3,$4)`,
		g.GuardID, g.InstanceID, g.Type, g.PolicyJSON)
	if err != nil {
		return engineerrors.NewDatabaseError("save guard", err)
	}
	return nil
}

