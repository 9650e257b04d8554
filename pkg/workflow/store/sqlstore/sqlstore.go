// Package sqlstore is a database/sql implementation of store.Store shared by
// the sqlite, mysql, and postgres backends (SPEC_FULL.md §11): each dialect
// package only opens its driver-specific *sql.DB and runs goose migrations,
// then delegates every query here. Grounded on the teacher's
// graph/store/sqlite.go (single-file struct wrapping *sql.DB, JSON-text
// columns for structured fields, "?" placeholders) generalized across
// dialects with a Rebind function, the way database/sql libraries in the
// wider ecosystem (sqlx) handle the same placeholder-syntax split.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/hash"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
)

// Dialect distinguishes placeholder syntax and a handful of DDL/DML quirks
// across the three SQL backends.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
	DialectPostgres
)

// Store is the shared SQL-backed implementation of store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an already-open, already-migrated *sql.DB.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// rebind rewrites "?" placeholders into "$1"-style ones for Postgres; MySQL
// and SQLite accept "?" directly.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func marshalJSON(v interface{}) string {
	if v == nil {
		b, _ := json.Marshal(map[string]interface{}{})
		return string(b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalJSONMap(raw string) map[string]interface{} {
	out := make(map[string]interface{})
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// ---- UOWRepository ----

func (s *Store) Create(ctx context.Context, spec store.UOWSpec) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	contentHash, err := hash.ComputeContentHash(spec.InitialAttributes)
	if err != nil {
		return "", model.NewError(model.CodeInstantiationFailed, "create", "sqlstore", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", model.NewError(model.CodeInstantiationFailed, "create", "sqlstore", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO uows (id, instance_id, workflow_id, parent_id, current_interaction_id, status,
			last_heartbeat, content_hash, max_interactions, interaction_policy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), id, spec.InstanceID, spec.WorkflowID, nullString(spec.ParentID), spec.CurrentInteractionID,
		string(model.StatusPending), now, contentHash, nullInt(spec.MaxInteractions), marshalJSON(spec.InteractionPolicy))
	if err != nil {
		return "", model.NewError(model.CodeInstantiationFailed, "create", "sqlstore", id, err)
	}

	for k, v := range spec.InitialAttributes {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO uow_attributes (id, uow_id, attr_key, value, version, actor_id, created_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
		`), uuid.NewString(), id, k, marshalJSON(v), spec.InitialAttributesBy, now)
		if err != nil {
			return "", model.NewError(model.CodeInstantiationFailed, "create", "sqlstore", id, err)
		}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO uow_history (id, uow_id, new_status, new_content_hash, new_interaction_id, actor_id, event_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), id, string(model.StatusPending), contentHash, spec.CurrentInteractionID,
		spec.InitialAttributesBy, string(model.EventUOWCreated), now)
	if err != nil {
		return "", model.NewError(model.CodeInstantiationFailed, "create", "sqlstore", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", model.NewError(model.CodeInstantiationFailed, "create", "sqlstore", id, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (store.FullUOW, error) {
	row := s.queryRow(ctx, `
		SELECT id, instance_id, workflow_id, parent_id, current_interaction_id, status, child_count,
			finished_child_count, last_heartbeat, content_hash, interaction_count, max_interactions,
			retry_count, interaction_policy, injected_instructions, knowledge_fragment_refs, mutation_audit_log
		FROM uows WHERE id = ?
	`, id)

	var (
		u                                             model.UOW
		parentID                                      sql.NullString
		lastHeartbeat                                 sql.NullTime
		maxInteractions                               sql.NullInt64
		interactionPolicy, knowledgeRefs, mutationLog string
	)
	err := row.Scan(&u.ID, &u.InstanceID, &u.WorkflowID, &parentID, &u.CurrentInteractionID, &u.Status,
		&u.ChildCount, &u.FinishedChildCount, &lastHeartbeat, &u.ContentHash, &u.InteractionCount,
		&maxInteractions, &u.RetryCount, &interactionPolicy, &u.InjectedInstructions, &knowledgeRefs, &mutationLog)
	if err == sql.ErrNoRows {
		return store.FullUOW{}, store.ErrNotFound
	}
	if err != nil {
		return store.FullUOW{}, model.NewError(model.CodeNotFound, "get", "sqlstore", id, err)
	}
	if parentID.Valid {
		u.ParentID = &parentID.String
	}
	if lastHeartbeat.Valid {
		u.LastHeartbeat = &lastHeartbeat.Time
	}
	if maxInteractions.Valid {
		n := int(maxInteractions.Int64)
		u.MaxInteractions = &n
	}
	u.InteractionPolicy = unmarshalJSONMap(interactionPolicy)
	_ = json.Unmarshal([]byte(knowledgeRefs), &u.KnowledgeFragmentRefs)
	_ = json.Unmarshal([]byte(mutationLog), &u.MutationAuditLog)

	attrs, err := s.currentAttributes(ctx, id)
	if err != nil {
		return store.FullUOW{}, err
	}
	return store.FullUOW{UOW: u, Attributes: attrs}, nil
}

func (s *Store) currentAttributeRows(ctx context.Context, id string) ([]model.UOWAttribute, error) {
	rows, err := s.query(ctx, `
		SELECT id, uow_id, attr_key, value, version, actor_id, reasoning, created_at
		FROM uow_attributes WHERE uow_id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.UOWAttribute
	for rows.Next() {
		var a model.UOWAttribute
		var valueJSON string
		if err := rows.Scan(&a.ID, &a.UOWID, &a.Key, &valueJSON, &a.Version, &a.ActorID, &a.Reasoning, &a.CreatedAt); err != nil {
			return nil, err
		}
		var v interface{}
		_ = json.Unmarshal([]byte(valueJSON), &v)
		a.Value = v
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) currentAttributes(ctx context.Context, id string) (map[string]interface{}, error) {
	rows, err := s.currentAttributeRows(ctx, id)
	if err != nil {
		return nil, model.NewError(model.CodeNotFound, "get_attributes", "sqlstore", id, err)
	}
	return model.AttributeMap(rows), nil
}

func (s *Store) UpdateState(ctx context.Context, guard store.GuardContext, id, actorID string, newStatus model.UOWStatus, newInteractionID string, payload map[string]interface{}, autoIncrement bool, reasoning string) error {
	if guard != nil && !guard.IsAuthorized(ctx, actorID, id) {
		_ = s.emitViolation(ctx, store.ViolationPacket{
			Rule:     "AUTHORIZATION",
			Severity: "CRITICAL",
			UOWID:    id,
			Remedy:   fmt.Sprintf("actor %s is not the holder of record for uow %s; re-checkout before mutating", actorID, id),
		})
		return model.NewError(model.CodeGuardUnauthorized, "update_state", "sqlstore", id, nil)
	}
	delete(payload, "interaction_policy")
	instructions, hasInstructions, knowledgeRefs, hasKnowledgeRefs, auditLog, hasAuditLog := model.ExtractMutationFields(payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewError(model.CodeStateDrift, "update_state", "sqlstore", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.rebind(`SELECT status, content_hash, current_interaction_id FROM uows WHERE id = ?`), id)
	var previousStatus, previousHash, previousInteraction string
	if err := row.Scan(&previousStatus, &previousHash, &previousInteraction); err != nil {
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		return model.NewError(model.CodeStateDrift, "update_state", "sqlstore", id, err)
	}

	existing, err := s.currentAttributeRowsTx(ctx, tx, id)
	if err != nil {
		return model.NewError(model.CodeStateDrift, "update_state", "sqlstore", id, err)
	}
	current := model.AttributeMap(existing)
	now := time.Now().UTC()
	for k, v := range payload {
		current[k] = v
		nextVersion := model.MaxVersion(existing, k) + 1
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO uow_attributes (id, uow_id, attr_key, value, version, actor_id, reasoning, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), uuid.NewString(), id, k, marshalJSON(v), nextVersion, actorID, reasoning, now)
		if err != nil {
			return model.NewError(model.CodeStateDrift, "update_state", "sqlstore", id, err)
		}
	}

	newHash, err := hash.ComputeContentHash(current)
	if err != nil {
		return model.NewError(model.CodeStateDrift, "update_state", "sqlstore", id, err)
	}

	newInteraction := previousInteraction
	if newInteractionID != "" {
		newInteraction = newInteractionID
	}

	extraClauses := ""
	args := []interface{}{string(newStatus), newHash, now, newInteraction}
	if autoIncrement {
		extraClauses += ", interaction_count = interaction_count + 1"
	}
	if hasInstructions {
		extraClauses += ", injected_instructions = ?"
		args = append(args, instructions)
	}
	if hasKnowledgeRefs {
		extraClauses += ", knowledge_fragment_refs = ?"
		args = append(args, marshalJSON(knowledgeRefs))
	}
	if hasAuditLog {
		extraClauses += ", mutation_audit_log = ?"
		args = append(args, marshalJSON(auditLog))
	}
	args = append(args, id)
	_, err = tx.ExecContext(ctx, s.rebind(fmt.Sprintf(`
		UPDATE uows SET status = ?, content_hash = ?, last_heartbeat = ?, current_interaction_id = ?%s WHERE id = ?
	`, extraClauses)), args...)
	if err != nil {
		return model.NewError(model.CodeStateDrift, "update_state", "sqlstore", id, err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO uow_history (id, uow_id, previous_status, new_status, previous_content_hash, new_content_hash,
			previous_interaction_id, new_interaction_id, actor_id, reasoning, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), id, previousStatus, string(newStatus), previousHash, newHash,
		previousInteraction, newInteraction, actorID, reasoning, string(model.EventStateTransition), marshalJSON(payload), now)
	if err != nil {
		return model.NewError(model.CodeStateDrift, "update_state", "sqlstore", id, err)
	}

	return tx.Commit()
}

func (s *Store) currentAttributeRowsTx(ctx context.Context, tx *sql.Tx, id string) ([]model.UOWAttribute, error) {
	rows, err := tx.QueryContext(ctx, s.rebind(`
		SELECT id, uow_id, attr_key, value, version, actor_id, reasoning, created_at
		FROM uow_attributes WHERE uow_id = ?
	`), id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.UOWAttribute
	for rows.Next() {
		var a model.UOWAttribute
		var valueJSON string
		if err := rows.Scan(&a.ID, &a.UOWID, &a.Key, &valueJSON, &a.Version, &a.ActorID, &a.Reasoning, &a.CreatedAt); err != nil {
			return nil, err
		}
		var v interface{}
		_ = json.Unmarshal([]byte(valueJSON), &v)
		a.Value = v
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveWithPilotCheck(ctx context.Context, guard store.GuardContext, id, actorID string, newStatus model.UOWStatus, newInteractionID string, payload map[string]interface{}, highRiskSet map[model.UOWStatus]bool, reasoning string) (bool, string, error) {
	if highRiskSet[newStatus] && guard != nil {
		approved, err := guard.WaitForPilot(ctx, id, reasoning, 30*time.Second)
		if err != nil {
			return false, "", err
		}
		if !approved {
			return false, string(model.CodePilotApprovalRequired), nil
		}
	}
	if err := s.UpdateState(ctx, guard, id, actorID, newStatus, newInteractionID, payload, true, reasoning); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (s *Store) AppendHistory(ctx context.Context, id string, eventType model.HistoryEventType, payload map[string]interface{}, previousHash string, actorID, reasoning string) error {
	_, err := s.exec(ctx, `
		INSERT INTO uow_history (id, uow_id, previous_content_hash, actor_id, reasoning, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), id, previousHash, actorID, reasoning, string(eventType), marshalJSON(payload), time.Now().UTC())
	return err
}

func (s *Store) scanUOWRows(rows *sql.Rows) ([]model.UOW, error) {
	defer func() { _ = rows.Close() }()
	var out []model.UOW
	for rows.Next() {
		var (
			u                                      model.UOW
			parentID                               sql.NullString
			lastHeartbeat                          sql.NullTime
			maxInteractions                        sql.NullInt64
			interactionPolicy, knowledgeRefs, mlog string
		)
		if err := rows.Scan(&u.ID, &u.InstanceID, &u.WorkflowID, &parentID, &u.CurrentInteractionID, &u.Status,
			&u.ChildCount, &u.FinishedChildCount, &lastHeartbeat, &u.ContentHash, &u.InteractionCount,
			&maxInteractions, &u.RetryCount, &interactionPolicy, &u.InjectedInstructions, &knowledgeRefs, &mlog); err != nil {
			return nil, err
		}
		if parentID.Valid {
			u.ParentID = &parentID.String
		}
		if lastHeartbeat.Valid {
			u.LastHeartbeat = &lastHeartbeat.Time
		}
		if maxInteractions.Valid {
			n := int(maxInteractions.Int64)
			u.MaxInteractions = &n
		}
		u.InteractionPolicy = unmarshalJSONMap(interactionPolicy)
		_ = json.Unmarshal([]byte(knowledgeRefs), &u.KnowledgeFragmentRefs)
		_ = json.Unmarshal([]byte(mlog), &u.MutationAuditLog)
		out = append(out, u)
	}
	return out, rows.Err()
}

const uowColumns = `id, instance_id, workflow_id, parent_id, current_interaction_id, status, child_count,
	finished_child_count, last_heartbeat, content_hash, interaction_count, max_interactions,
	retry_count, interaction_policy, injected_instructions, knowledge_fragment_refs, mutation_audit_log`

func (s *Store) FindByStatus(ctx context.Context, status model.UOWStatus, instanceID string) ([]model.UOW, error) {
	if instanceID == "" {
		rows, err := s.query(ctx, `SELECT `+uowColumns+` FROM uows WHERE status = ? ORDER BY id`, string(status))
		if err != nil {
			return nil, err
		}
		return s.scanUOWRows(rows)
	}
	rows, err := s.query(ctx, `SELECT `+uowColumns+` FROM uows WHERE status = ? AND instance_id = ? ORDER BY id`, string(status), instanceID)
	if err != nil {
		return nil, err
	}
	return s.scanUOWRows(rows)
}

func (s *Store) FindByInteractionLimit(ctx context.Context, instanceID string) ([]model.UOW, error) {
	if instanceID == "" {
		rows, err := s.query(ctx, `SELECT `+uowColumns+` FROM uows WHERE max_interactions IS NOT NULL AND interaction_count >= max_interactions ORDER BY id`)
		if err != nil {
			return nil, err
		}
		return s.scanUOWRows(rows)
	}
	rows, err := s.query(ctx, `SELECT `+uowColumns+` FROM uows WHERE instance_id = ? AND max_interactions IS NOT NULL AND interaction_count >= max_interactions ORDER BY id`, instanceID)
	if err != nil {
		return nil, err
	}
	return s.scanUOWRows(rows)
}

func (s *Store) GetHistory(ctx context.Context, id string, limit int) ([]model.UOWHistory, error) {
	q := `SELECT id, uow_id, previous_status, new_status, previous_content_hash, new_content_hash,
		previous_interaction_id, new_interaction_id, actor_id, reasoning, event_type, payload, created_at
		FROM uow_history WHERE uow_id = ? ORDER BY created_at`
	args := []interface{}{id}
	if limit > 0 {
		q += ` DESC LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.UOWHistory
	for rows.Next() {
		var h model.UOWHistory
		var payload string
		if err := rows.Scan(&h.ID, &h.UOWID, &h.PreviousStatus, &h.NewStatus, &h.PreviousContentHash, &h.NewContentHash,
			&h.PreviousInteractionID, &h.NewInteractionID, &h.ActorID, &h.Reasoning, &h.EventType, &payload, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Payload = unmarshalJSONMap(payload)
		out = append(out, h)
	}
	if limit > 0 {
		// reverse back to chronological order
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, rows.Err()
}

func (s *Store) VerifyStateHash(ctx context.Context, id string, emitViolation bool) (bool, error) {
	row := s.queryRow(ctx, `SELECT content_hash, instance_id FROM uows WHERE id = ?`, id)
	var recorded, instanceID string
	if err := row.Scan(&recorded, &instanceID); err != nil {
		if err == sql.ErrNoRows {
			return false, store.ErrNotFound
		}
		return false, err
	}
	attrs, err := s.currentAttributes(ctx, id)
	if err != nil {
		return false, err
	}
	ok := hash.VerifyStateHash(attrs, recorded)
	if !ok && emitViolation {
		_ = s.emitViolation(ctx, store.ViolationPacket{
			Rule:     "STATE_INTEGRITY",
			Severity: "CRITICAL",
			UOWID:    id,
			Remedy:   "recompute content hash from the live attribute set or quarantine the uow",
			Detail:   map[string]interface{}{"instance_id": instanceID},
		})
	}
	return ok, nil
}

func (s *Store) ClearHeartbeat(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE uows SET last_heartbeat = NULL WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Heartbeat(ctx context.Context, id, _ string) error {
	row := s.queryRow(ctx, `SELECT status FROM uows WHERE id = ?`, id)
	var status model.UOWStatus
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		return err
	}
	if status != model.StatusActive {
		return model.NewError(model.CodeNotLocked, "heartbeat", "sqlstore", id, nil)
	}
	_, err := s.exec(ctx, `UPDATE uows SET last_heartbeat = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// ResetInteractionCount zeroes InteractionCount directly (spec.md §4.5);
// UpdateState's autoIncrement lever can only ever add one.
func (s *Store) ResetInteractionCount(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE uows SET interaction_count = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- BlueprintRepository ----

func (s *Store) GetBlueprint(ctx context.Context, templateID string) (store.Blueprint, error) {
	wfRow := s.queryRow(ctx, `SELECT id, name, version, notes, topology FROM workflows WHERE id = ? AND instance_id = ''`, templateID)
	var wf model.Workflow
	var topology string
	if err := wfRow.Scan(&wf.ID, &wf.Name, &wf.Version, &wf.Notes, &topology); err != nil {
		if err == sql.ErrNoRows {
			return store.Blueprint{}, model.NewError(model.CodeTemplateNotFound, "get_blueprint", "sqlstore", templateID, nil)
		}
		return store.Blueprint{}, err
	}
	wf.Topology = unmarshalJSONMap(topology)

	bp := store.Blueprint{Workflow: wf}

	roleRows, err := s.query(ctx, `SELECT id, workflow_id, name, type, decomposition, child_workflow_id FROM roles WHERE workflow_id = ?`, templateID)
	if err != nil {
		return store.Blueprint{}, err
	}
	for roleRows.Next() {
		var r model.Role
		if err := roleRows.Scan(&r.ID, &r.WorkflowID, &r.Name, &r.Type, &r.Decomposition, &r.ChildWorkflowID); err != nil {
			_ = roleRows.Close()
			return store.Blueprint{}, err
		}
		bp.Roles = append(bp.Roles, r)
	}
	_ = roleRows.Close()

	inRows, err := s.query(ctx, `SELECT id, workflow_id, name FROM interactions WHERE workflow_id = ?`, templateID)
	if err != nil {
		return store.Blueprint{}, err
	}
	for inRows.Next() {
		var in model.Interaction
		if err := inRows.Scan(&in.ID, &in.WorkflowID, &in.Name); err != nil {
			_ = inRows.Close()
			return store.Blueprint{}, err
		}
		bp.Interactions = append(bp.Interactions, in)
	}
	_ = inRows.Close()

	cRows, err := s.query(ctx, `SELECT id, workflow_id, interaction_id, role_id, direction, name FROM components WHERE workflow_id = ?`, templateID)
	if err != nil {
		return store.Blueprint{}, err
	}
	for cRows.Next() {
		var c model.Component
		if err := cRows.Scan(&c.ID, &c.WorkflowID, &c.InteractionID, &c.RoleID, &c.Direction, &c.Name); err != nil {
			_ = cRows.Close()
			return store.Blueprint{}, err
		}
		bp.Components = append(bp.Components, c)
	}
	_ = cRows.Close()

	gRows, err := s.query(ctx, `SELECT id, workflow_id, component_id, type, config FROM guardians WHERE workflow_id = ?`, templateID)
	if err != nil {
		return store.Blueprint{}, err
	}
	for gRows.Next() {
		var g model.Guardian
		var config string
		if err := gRows.Scan(&g.ID, &g.WorkflowID, &g.ComponentID, &g.Type, &config); err != nil {
			_ = gRows.Close()
			return store.Blueprint{}, err
		}
		g.Config = unmarshalJSONMap(config)
		bp.Guardians = append(bp.Guardians, g)
	}
	_ = gRows.Close()

	return bp, nil
}

// PutBlueprint inserts a blueprint-tier workflow graph (used by cmd/chameleon-seed).
func (s *Store) PutBlueprint(ctx context.Context, bp store.Blueprint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO workflows (id, instance_id, name, version, notes, topology) VALUES (?, '', ?, ?, ?, ?)`),
		bp.Workflow.ID, bp.Workflow.Name, bp.Workflow.Version, bp.Workflow.Notes, marshalJSON(bp.Workflow.Topology))
	if err != nil {
		return err
	}
	for _, r := range bp.Roles {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO roles (id, workflow_id, name, type, decomposition, child_workflow_id) VALUES (?, ?, ?, ?, ?, ?)`),
			r.ID, r.WorkflowID, r.Name, string(r.Type), string(r.Decomposition), r.ChildWorkflowID); err != nil {
			return err
		}
	}
	for _, in := range bp.Interactions {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO interactions (id, workflow_id, name) VALUES (?, ?, ?)`),
			in.ID, in.WorkflowID, in.Name); err != nil {
			return err
		}
	}
	for _, c := range bp.Components {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO components (id, workflow_id, interaction_id, role_id, direction, name) VALUES (?, ?, ?, ?, ?, ?)`),
			c.ID, c.WorkflowID, c.InteractionID, c.RoleID, string(c.Direction), c.Name); err != nil {
			return err
		}
	}
	for _, g := range bp.Guardians {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO guardians (id, workflow_id, component_id, type, config) VALUES (?, ?, ?, ?, ?)`),
			g.ID, g.WorkflowID, g.ComponentID, string(g.Type), marshalJSON(g.Config)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CloneIntoInstance(ctx context.Context, instanceID string, bp store.Blueprint) (store.InstanceIDMaps, error) {
	ids := store.InstanceIDMaps{
		WorkflowID:     uuid.NewString(),
		RoleIDs:        make(map[string]string, len(bp.Roles)),
		InteractionIDs: make(map[string]string, len(bp.Interactions)),
		ComponentIDs:   make(map[string]string, len(bp.Components)),
		GuardianIDs:    make(map[string]string, len(bp.Guardians)),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ids, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO workflows (id, instance_id, name, version, notes, topology) VALUES (?, ?, ?, ?, ?, ?)`),
		ids.WorkflowID, instanceID, bp.Workflow.Name, bp.Workflow.Version, bp.Workflow.Notes, marshalJSON(bp.Workflow.Topology))
	if err != nil {
		return ids, err
	}

	for _, r := range bp.Roles {
		newID := uuid.NewString()
		ids.RoleIDs[r.ID] = newID
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO roles (id, workflow_id, name, type, decomposition, child_workflow_id) VALUES (?, ?, ?, ?, ?, ?)`),
			newID, ids.WorkflowID, r.Name, string(r.Type), string(r.Decomposition), r.ChildWorkflowID); err != nil {
			return ids, err
		}
		if r.Type == model.RoleAlpha {
			ids.AlphaRoleID = newID
		}
	}
	for _, in := range bp.Interactions {
		newID := uuid.NewString()
		ids.InteractionIDs[in.ID] = newID
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO interactions (id, workflow_id, name) VALUES (?, ?, ?)`),
			newID, ids.WorkflowID, in.Name); err != nil {
			return ids, err
		}
	}
	for _, c := range bp.Components {
		newID := uuid.NewString()
		ids.ComponentIDs[c.ID] = newID
		roleID := ids.RoleIDs[c.RoleID]
		interactionID := ids.InteractionIDs[c.InteractionID]
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO components (id, workflow_id, interaction_id, role_id, direction, name) VALUES (?, ?, ?, ?, ?, ?)`),
			newID, ids.WorkflowID, interactionID, roleID, string(c.Direction), c.Name); err != nil {
			return ids, err
		}
		if roleID == ids.AlphaRoleID && c.Direction == model.DirectionOutbound {
			ids.AlphaOutboundID = interactionID
		}
	}
	for _, g := range bp.Guardians {
		newID := uuid.NewString()
		ids.GuardianIDs[g.ID] = newID
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO guardians (id, workflow_id, component_id, type, config) VALUES (?, ?, ?, ?, ?)`),
			newID, ids.WorkflowID, ids.ComponentIDs[g.ComponentID], string(g.Type), marshalJSON(g.Config)); err != nil {
			return ids, err
		}
	}

	return ids, tx.Commit()
}

// ---- MemoryRepository ----

func (s *Store) UpsertActorMemory(ctx context.Context, instanceID, roleID, actorID, key string, value interface{}) error {
	row := s.queryRow(ctx, `SELECT id FROM role_attributes WHERE instance_id = ? AND role_id = ? AND context_id = ? AND attr_key = ?`,
		instanceID, roleID, actorID, key)
	var existingID string
	err := row.Scan(&existingID)
	now := time.Now().UTC()
	if err == sql.ErrNoRows {
		_, err := s.exec(ctx, `
			INSERT INTO role_attributes (id, instance_id, role_id, context_type, context_id, attr_key, value, confidence, created_at, last_accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, uuid.NewString(), instanceID, roleID, string(model.ContextActor), actorID, key, marshalJSON(value), now, now)
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `UPDATE role_attributes SET value = ?, last_accessed_at = ? WHERE id = ?`, marshalJSON(value), now, existingID)
	return err
}

// GetMemoryContext merges global and per-actor memory, actor entries
// overriding global ones by key (spec.md §4.6). ORDER BY context_type DESC
// puts GLOBAL rows before ACTOR rows ("ACTOR" < "GLOBAL" lexically) so the
// actor row's map assignment always wins the override, deterministically.
// Every row that contributed touches last_accessed_at.
func (s *Store) GetMemoryContext(ctx context.Context, instanceID, roleID, actorID string) (map[string]interface{}, error) {
	rows, err := s.query(ctx, `
		SELECT id, attr_key, value FROM role_attributes
		WHERE instance_id = ? AND role_id = ? AND is_toxic = 0 AND (context_id = ? OR context_id = ?)
		ORDER BY context_type DESC
	`, instanceID, roleID, string(model.ContextGlobal), actorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]interface{})
	var touched []string
	for rows.Next() {
		var id, key, valueJSON string
		if err := rows.Scan(&id, &key, &valueJSON); err != nil {
			return nil, err
		}
		var v interface{}
		_ = json.Unmarshal([]byte(valueJSON), &v)
		out[key] = v
		touched = append(touched, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(touched) > 0 {
		now := time.Now().UTC()
		for _, id := range touched {
			if _, err := s.exec(ctx, `UPDATE role_attributes SET last_accessed_at = ? WHERE id = ?`, now, id); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s *Store) Retrieve(ctx context.Context, instanceID, roleID, actorID, query string) ([]model.RoleAttribute, error) {
	rows, err := s.query(ctx, `
		SELECT id, instance_id, role_id, context_type, context_id, attr_key, value, confidence, is_toxic, created_at, last_accessed_at
		FROM role_attributes
		WHERE instance_id = ? AND role_id = ? AND is_toxic = 0 AND (context_id = ? OR context_id = ?)
		ORDER BY created_at
	`, instanceID, roleID, string(model.ContextGlobal), actorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.RoleAttribute
	for rows.Next() {
		var r model.RoleAttribute
		var valueJSON string
		var lastAccessed sql.NullTime
		if err := rows.Scan(&r.ID, &r.InstanceID, &r.RoleID, &r.ContextType, &r.ContextID, &r.Key, &valueJSON,
			&r.Confidence, &r.IsToxic, &r.CreatedAt, &lastAccessed); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(valueJSON), &r.Value)
		if lastAccessed.Valid {
			r.LastAccessedAt = &lastAccessed.Time
		}
		if query == "" || r.Key == query || fmt.Sprintf("%v", r.Value) == query {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func (s *Store) MarkToxic(ctx context.Context, memoryID, reason string) error {
	res, err := s.exec(ctx, `UPDATE role_attributes SET is_toxic = 1 WHERE id = ?`, memoryID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DecayOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.query(ctx, `SELECT id, confidence, created_at, last_accessed_at FROM role_attributes WHERE is_toxic = 0`)
	if err != nil {
		return 0, err
	}
	type cand struct {
		id         string
		confidence int
	}
	var toDecay, toDelete []cand
	for rows.Next() {
		var id string
		var confidence int
		var created time.Time
		var lastAccessed sql.NullTime
		if err := rows.Scan(&id, &confidence, &created, &lastAccessed); err != nil {
			_ = rows.Close()
			return 0, err
		}
		last := created
		if lastAccessed.Valid {
			last = lastAccessed.Time
		}
		if last.Before(cutoff) {
			if confidence-1 <= 0 {
				toDelete = append(toDelete, cand{id: id})
			} else {
				toDecay = append(toDecay, cand{id: id, confidence: confidence - 1})
			}
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, c := range toDecay {
		if _, err := s.exec(ctx, `UPDATE role_attributes SET confidence = ? WHERE id = ?`, c.confidence, c.id); err != nil {
			return 0, err
		}
	}
	for _, c := range toDelete {
		if _, err := s.exec(ctx, `DELETE FROM role_attributes WHERE id = ?`, c.id); err != nil {
			return 0, err
		}
	}
	return len(toDecay) + len(toDelete), nil
}

// ---- TelemetryOutbox ----

func (s *Store) Append(ctx context.Context, entry model.InteractionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `
		INSERT INTO interaction_log (id, instance_id, uow_id, role_id, log_type, message, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.InstanceID, entry.UOWID, entry.RoleID, string(entry.LogType), entry.Message, marshalJSON(entry.Detail), time.Now().UTC())
	return err
}

// emitViolation records a ViolationPacket onto the outbox (spec.md §4.1, §7:
// every authorization/state-integrity violation is "accompanied by a
// ViolationPacket on the broadcaster").
func (s *Store) emitViolation(ctx context.Context, v store.ViolationPacket) error {
	detail := map[string]interface{}{"rule": v.Rule, "severity": v.Severity, "remedy": v.Remedy}
	for k, val := range v.Detail {
		detail[k] = val
	}
	return s.Append(ctx, model.InteractionLogEntry{UOWID: v.UOWID, LogType: model.LogViolation, Message: v.Rule + ": " + v.Remedy, Detail: detail})
}

func (s *Store) PendingEvents(ctx context.Context, limit int) ([]model.InteractionLogEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, instance_id, uow_id, role_id, log_type, message, detail, created_at
		FROM interaction_log WHERE emitted_at IS NULL ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.InteractionLogEntry
	for rows.Next() {
		var e model.InteractionLogEntry
		var detail string
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.UOWID, &e.RoleID, &e.LogType, &e.Message, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Detail = unmarshalJSONMap(detail)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkEventsEmitted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids)+1)
	args[0] = time.Now().UTC()
	for i, id := range ids {
		placeholders[i] = "?"
		args[i+1] = id
	}
	q := fmt.Sprintf(`UPDATE interaction_log SET emitted_at = ? WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	_, err := s.exec(ctx, q, args...)
	return err
}

// ---- ActorRepository ----

func (s *Store) GetActiveAssignment(ctx context.Context, actorID, roleID string) (model.ActorRoleAssignment, bool, error) {
	row := s.queryRow(ctx, `SELECT id, actor_id, role_id, status FROM actor_role_assignments WHERE actor_id = ? AND role_id = ? AND status = ?`,
		actorID, roleID, string(model.AssignmentActive))
	var a model.ActorRoleAssignment
	err := row.Scan(&a.ID, &a.ActorID, &a.RoleID, &a.Status)
	if err == sql.ErrNoRows {
		return model.ActorRoleAssignment{}, false, nil
	}
	if err != nil {
		return model.ActorRoleAssignment{}, false, err
	}
	return a, true, nil
}

// ---- RoleTopology ----

func (s *Store) InboundComponents(ctx context.Context, roleID string) ([]model.Component, error) {
	return s.componentsFor(ctx, roleID, model.DirectionInbound)
}

func (s *Store) OutboundComponents(ctx context.Context, roleID string) ([]model.Component, error) {
	return s.componentsFor(ctx, roleID, model.DirectionOutbound)
}

func (s *Store) componentsFor(ctx context.Context, roleID string, direction model.ComponentDirection) ([]model.Component, error) {
	rows, err := s.query(ctx, `SELECT id, workflow_id, interaction_id, role_id, direction, name FROM components WHERE role_id = ? AND direction = ?`,
		roleID, string(direction))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Component
	for rows.Next() {
		var c model.Component
		if err := rows.Scan(&c.ID, &c.WorkflowID, &c.InteractionID, &c.RoleID, &c.Direction, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GuardianFor(ctx context.Context, componentID string) (model.Guardian, bool, error) {
	row := s.queryRow(ctx, `SELECT id, workflow_id, component_id, type, config FROM guardians WHERE component_id = ?`, componentID)
	var g model.Guardian
	var config string
	err := row.Scan(&g.ID, &g.WorkflowID, &g.ComponentID, &g.Type, &config)
	if err == sql.ErrNoRows {
		return model.Guardian{}, false, nil
	}
	if err != nil {
		return model.Guardian{}, false, err
	}
	g.Config = unmarshalJSONMap(config)
	return g, true, nil
}

func (s *Store) RoleByID(ctx context.Context, roleID string) (model.Role, bool, error) {
	row := s.queryRow(ctx, `SELECT id, workflow_id, name, type, decomposition, child_workflow_id FROM roles WHERE id = ?`, roleID)
	var r model.Role
	err := row.Scan(&r.ID, &r.WorkflowID, &r.Name, &r.Type, &r.Decomposition, &r.ChildWorkflowID)
	if err == sql.ErrNoRows {
		return model.Role{}, false, nil
	}
	if err != nil {
		return model.Role{}, false, err
	}
	return r, true, nil
}

func (s *Store) RoleByType(ctx context.Context, workflowID string, roleType model.RoleType) (model.Role, bool, error) {
	row := s.queryRow(ctx, `SELECT id, workflow_id, name, type, decomposition, child_workflow_id FROM roles WHERE workflow_id = ? AND type = ?`,
		workflowID, string(roleType))
	var r model.Role
	err := row.Scan(&r.ID, &r.WorkflowID, &r.Name, &r.Type, &r.Decomposition, &r.ChildWorkflowID)
	if err == sql.ErrNoRows {
		return model.Role{}, false, nil
	}
	if err != nil {
		return model.Role{}, false, err
	}
	return r, true, nil
}

func (s *Store) InteractionByID(ctx context.Context, id string) (model.Interaction, bool, error) {
	row := s.queryRow(ctx, `SELECT id, workflow_id, name FROM interactions WHERE id = ?`, id)
	var in model.Interaction
	err := row.Scan(&in.ID, &in.WorkflowID, &in.Name)
	if err == sql.ErrNoRows {
		return model.Interaction{}, false, nil
	}
	if err != nil {
		return model.Interaction{}, false, err
	}
	return in, true, nil
}

func (s *Store) RoleForInboundInteraction(ctx context.Context, interactionID string) (model.Role, bool, error) {
	row := s.queryRow(ctx, `SELECT r.id, r.workflow_id, r.name, r.type, r.decomposition, r.child_workflow_id
		FROM roles r JOIN components c ON c.role_id = r.id
		WHERE c.interaction_id = ? AND c.direction = ?`, interactionID, string(model.DirectionInbound))
	var r model.Role
	err := row.Scan(&r.ID, &r.WorkflowID, &r.Name, &r.Type, &r.Decomposition, &r.ChildWorkflowID)
	if err == sql.ErrNoRows {
		return model.Role{}, false, nil
	}
	if err != nil {
		return model.Role{}, false, err
	}
	return r, true, nil
}

var _ store.Store = (*Store)(nil)
