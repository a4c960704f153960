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
	"sort"
	"sync"
	"time"
)

// MemoryDB is an in-process driver used by the scenario test suite
// (spec.md section 8) and by any caller that doesn't need durability. It
// serializes every transaction behind a single mutex, which is a stronger
// guarantee than Postgres row locking but observationally equivalent for
// the one-operation-per-transaction discipline this package enforces.
type MemoryDB struct {
	mu sync.Mutex

	uows         map[string]*UOW
	attrs        map[string][]Attribute
	history      map[string][]HistoryRow
	templates    map[string]*Template
	instances    map[string]*Instance
	roles        map[string][]Role
	interactions map[string][]Interaction
	components   map[string][]Component
	guards       map[string]*Guard
}

// NewMemoryDB returns an empty in-memory driver.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		uows:         make(map[string]*UOW),
		attrs:        make(map[string][]Attribute),
		history:      make(map[string][]HistoryRow),
		templates:    make(map[string]*Template),
		instances:    make(map[string]*Instance),
		roles:        make(map[string][]Role),
		interactions: make(map[string][]Interaction),
		components:   make(map[string][]Component),
		guards:       make(map[string]*Guard),
	}
}

func (m *MemoryDB) Begin(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	return &memoryTx{db: m}, nil
}

func (m *MemoryDB) Close() error { return nil }

// memoryTx holds MemoryDB's single mutex for its lifetime: Begin locks it,
// Commit/Rollback unlock it. This gives every operation the exclusive,
// single-writer-order semantics spec.md section 5 requires without needing
// per-row locks.
type memoryTx struct {
	db   *MemoryDB
	done bool
}

func (t *memoryTx) finish() {
	if !t.done {
		t.done = true
		t.db.mu.Unlock()
	}
}

func (t *memoryTx) Commit(ctx context.Context) error   { t.finish(); return nil }
func (t *memoryTx) Rollback(ctx context.Context) error { t.finish(); return nil }

func cloneUOW(u *UOW) *UOW {
	cp := *u
	return &cp
}

func (t *memoryTx) GetUOWForUpdate(ctx context.Context, uowID string) (*UOW, error) {
	u, ok := t.db.uows[uowID]
	if !ok {
		return nil, ErrNotFound("uow")
	}
	return cloneUOW(u), nil
}

func (t *memoryTx) SaveUOW(ctx context.Context, uow *UOW) error {
	t.db.uows[uow.UOWID] = cloneUOW(uow)
	return nil
}

func (t *memoryTx) CreateUOW(ctx context.Context, uow *UOW) error {
	t.db.uows[uow.UOWID] = cloneUOW(uow)
	return nil
}

func (t *memoryTx) PutAttribute(ctx context.Context, attr Attribute) (Attribute, error) {
	existing := t.db.attrs[attr.UOWID]
	maxVersion := 0
	for _, a := range existing {
		if a.Key == attr.Key && a.Version > maxVersion {
			maxVersion = a.Version
		}
	}
	attr.Version = maxVersion + 1
	if attr.CreatedAt.IsZero() {
		attr.CreatedAt = time.Now().UTC()
	}
	t.db.attrs[attr.UOWID] = append(existing, attr)
	return attr, nil
}

func (t *memoryTx) LatestAttributes(ctx context.Context, uowID string, viewerActorID string) (map[string]any, error) {
	type best struct {
		version int
		value   any
		owner   *string
	}
	globals := map[string]best{}
	personal := map[string]best{}

	for _, a := range t.db.attrs[uowID] {
		if a.OwnerActorID == nil {
			if cur, ok := globals[a.Key]; !ok || a.Version > cur.version {
				globals[a.Key] = best{version: a.Version, value: a.Value}
			}
			continue
		}
		if *a.OwnerActorID != viewerActorID {
			continue
		}
		if cur, ok := personal[a.Key]; !ok || a.Version > cur.version {
			personal[a.Key] = best{version: a.Version, value: a.Value}
		}
	}

	merged := make(map[string]any, len(globals)+len(personal))
	for k, v := range globals {
		merged[k] = v.value
	}
	for k, v := range personal {
		merged[k] = v.value
	}
	return merged, nil
}

func (t *memoryTx) AllAttributeVersions(ctx context.Context, uowID string) ([]Attribute, error) {
	out := append([]Attribute(nil), t.db.attrs[uowID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (t *memoryTx) AppendHistory(ctx context.Context, row HistoryRow) error {
	rows := t.db.history[row.UOWID]
	for _, r := range rows {
		if r.Seq == row.Seq {
			return nil // idempotent on (uow_id, seq)
		}
	}
	t.db.history[row.UOWID] = append(rows, row)
	return nil
}

func (t *memoryTx) ListHistory(ctx context.Context, uowID string) ([]HistoryRow, error) {
	out := append([]HistoryRow(nil), t.db.history[uowID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *memoryTx) FindEligibleUOWs(ctx context.Context, interactionIDs []string) ([]UOW, error) {
	wanted := make(map[string]bool, len(interactionIDs))
	for _, id := range interactionIDs {
		wanted[id] = true
	}
	var out []UOW
	for _, u := range t.db.uows {
		if u.Status == StatusPending && wanted[u.CurrentInteractionID] {
			out = append(out, *cloneUOW(u))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memoryTx) FindStaleActive(ctx context.Context, olderThan time.Time) ([]UOW, error) {
	var out []UOW
	for _, u := range t.db.uows {
		if u.Status == StatusActive && u.LastHeartbeat != nil && u.LastHeartbeat.Before(olderThan) {
			out = append(out, *cloneUOW(u))
		}
	}
	return out, nil
}

func (t *memoryTx) FindStaleZombiedSoft(ctx context.Context, olderThan time.Time) ([]UOW, error) {
	var out []UOW
	for _, u := range t.db.uows {
		if u.Status == StatusZombiedSoft && u.LastHeartbeat != nil && u.LastHeartbeat.Before(olderThan) {
			out = append(out, *cloneUOW(u))
		}
	}
	return out, nil
}

func (t *memoryTx) ListUOWsByInstanceAndStatus(ctx context.Context, instanceID string, status UOWStatus) ([]UOW, error) {
	var out []UOW
	for _, u := range t.db.uows {
		if u.InstanceID == instanceID && u.Status == status {
			out = append(out, *cloneUOW(u))
		}
	}
	return out, nil
}

func (t *memoryTx) ListChildren(ctx context.Context, parentUOWID string) ([]UOW, error) {
	var out []UOW
	for _, u := range t.db.uows {
		if u.ParentID != nil && *u.ParentID == parentUOWID {
			out = append(out, *cloneUOW(u))
		}
	}
	return out, nil
}

func (t *memoryTx) GetTemplate(ctx context.Context, templateID string) (*Template, error) {
	tpl, ok := t.db.templates[templateID]
	if !ok {
		return nil, ErrNotFound("template")
	}
	cp := *tpl
	return &cp, nil
}

func (t *memoryTx) SaveTemplate(ctx context.Context, tpl *Template) error {
	cp := *tpl
	t.db.templates[tpl.TemplateID] = &cp
	return nil
}

func (t *memoryTx) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	i, ok := t.db.instances[instanceID]
	if !ok {
		return nil, ErrNotFound("instance")
	}
	cp := *i
	return &cp, nil
}

func (t *memoryTx) SaveInstance(ctx context.Context, i *Instance) error {
	cp := *i
	t.db.instances[i.InstanceID] = &cp
	return nil
}

func (t *memoryTx) ListRoles(ctx context.Context, instanceID string) ([]Role, error) {
	return append([]Role(nil), t.db.roles[instanceID]...), nil
}

func (t *memoryTx) SaveRole(ctx context.Context, r *Role) error {
	roles := t.db.roles[r.InstanceID]
	for i, existing := range roles {
		if existing.RoleID == r.RoleID {
			roles[i] = *r
			t.db.roles[r.InstanceID] = roles
			return nil
		}
	}
	t.db.roles[r.InstanceID] = append(roles, *r)
	return nil
}

func (t *memoryTx) ListInteractions(ctx context.Context, instanceID string) ([]Interaction, error) {
	return append([]Interaction(nil), t.db.interactions[instanceID]...), nil
}

func (t *memoryTx) SaveInteraction(ctx context.Context, i *Interaction) error {
	t.db.interactions[i.InstanceID] = append(t.db.interactions[i.InstanceID], *i)
	return nil
}

func (t *memoryTx) ListComponents(ctx context.Context, instanceID string) ([]Component, error) {
	return append([]Component(nil), t.db.components[instanceID]...), nil
}

func (t *memoryTx) SaveComponent(ctx context.Context, c *Component) error {
	t.db.components[c.InstanceID] = append(t.db.components[c.InstanceID], *c)
	return nil
}

func (t *memoryTx) GetGuard(ctx context.Context, guardID string) (*Guard, error) {
	g, ok := t.db.guards[guardID]
	if !ok {
		return nil, ErrNotFound("guard")
	}
	cp := *g
	return &cp, nil
}

func (t *memoryTx) SaveGuard(ctx context.Context, g *Guard) error {
	cp := *g
	t.db.guards[g.GuardID] = &cp
	return nil
}
