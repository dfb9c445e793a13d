package cache

import (
	"database/sql"
	"fmt"

	"github.com/ralphdev/tix/internal/tix"
)

// Freshness reports whether the cache is stale relative to the given
// git HEAD commit and log size (§4.2).
func Freshness(d *DB, headCommit string, logSize int64) (stale bool, err error) {
	meta, err := readCacheMeta(d)
	if err != nil {
		return true, err
	}
	if meta["schema_version"] != fmt.Sprintf("%d", SchemaVersion) {
		return true, nil
	}
	if meta["committed_commit"] != headCommit {
		return true, nil
	}
	if meta["last_log_size"] != fmt.Sprintf("%d", logSize) {
		return true, nil
	}
	return false, nil
}

func readCacheMeta(d *DB) (map[string]string, error) {
	rows, err := d.Query("SELECT key, value FROM cache_meta")
	if err != nil {
		return nil, fmt.Errorf("cache: read cache_meta: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// MarkFresh records the cache_meta freshness triple after a rebuild.
func MarkFresh(d *DB, headCommit string, logSize int64) error {
	_, err := d.Exec(`
		INSERT INTO cache_meta (key, value) VALUES
			('schema_version', ?),
			('committed_commit', ?),
			('last_log_size', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", SchemaVersion), headCommit, fmt.Sprintf("%d", logSize))
	if err != nil {
		return fmt.Errorf("cache: mark fresh: %w", err)
	}
	return nil
}

// Truncate empties every derived table, in preparation for a full
// rebuild-from-log replay (§4.2 Rebuild).
func Truncate(d *DB) error {
	tables := []string{"tickets", "tombstones", "ticket_deps", "ticket_labels", "ticket_meta", "cache_meta"}
	for _, t := range tables {
		if _, err := d.Exec("DELETE FROM " + t); err != nil {
			return fmt.Errorf("cache: truncate %s: %w", t, err)
		}
	}
	return nil
}

// UpsertTicket applies fields carried by ev to the ticket row, creating
// it if absent. Only fields present in ev are written — everything else
// retains its prior value (last-write-wins per field, invariant/testable
// property "Last-write-wins").
func UpsertTicket(d *DB, ev *tix.RawEvent) error {
	id, _ := ev.Fields["id"].(string)
	if id == "" {
		return tix.NewError(tix.ErrParse, "upsert_ticket", nil)
	}

	existing, found, err := GetTicket(d, id)
	if err != nil {
		return err
	}
	if !found {
		typ, _ := tix.TypeFromID(id)
		if typ == "" {
			typ = tix.Type(ev.T)
		}
		existing = &tix.Ticket{ID: id, Type: typ}
	}

	applyTicketFields(existing, ev)

	if err := writeTicketRow(d, existing); err != nil {
		return err
	}
	if deps := ev.StrSliceField("deps"); deps != nil {
		if err := writeDeps(d, id, deps); err != nil {
			return err
		}
	}
	if labels := ev.StrSliceField("labels"); labels != nil {
		if err := writeLabels(d, id, labels); err != nil {
			return err
		}
	}
	meta := ev.NestedMetaField()
	if inline := ev.InlineMetaField(); len(inline) > 0 {
		if meta == nil {
			meta = map[string]tix.MetaValue{}
		}
		for k, v := range inline {
			if _, exists := meta[k]; !exists {
				meta[k] = v
			}
		}
	}
	if len(meta) > 0 {
		if err := writeMeta(d, id, meta); err != nil {
			return err
		}
	}
	return nil
}

// applyTicketFields mutates t in place with every present field in ev.
func applyTicketFields(t *tix.Ticket, ev *tix.RawEvent) {
	if v := ev.StrField("name"); v != nil {
		t.Name = *v
	}
	if sv, ok := ev.Fields["s"].(string); ok {
		if status, ok := tix.StatusFromLogCode(sv); ok {
			reopened := status == tix.StatusPending && (t.Status == tix.StatusRejected || t.Status == tix.StatusAccepted)
			t.Status = status
			if reopened {
				t.ResolvedAt = 0
				t.KillReason = ""
			}
		}
	}
	if v := ev.StrField("spec"); v != nil {
		t.Spec = *v
	}
	if v := ev.StrField("notes"); v != nil {
		t.Notes = *v
	}
	if v := ev.StrField("accept"); v != nil {
		t.Accept = *v
	}
	if v := ev.StrField("priority"); v != nil {
		if p, ok := tix.PriorityFromToken(*v); ok {
			t.Priority = p
		}
	}
	if v := ev.StrField("parent"); v != nil {
		t.Parent = *v
	}
	if v := ev.StrField("created_from"); v != nil {
		t.CreatedFrom = *v
	}
	if v := ev.StrField("supersedes"); v != nil {
		t.Supersedes = *v
	}
	if v := ev.StrField("supersedes_reason"); v != nil {
		t.SupersedesReason = *v
	}
	if v := ev.StrField("author"); v != nil {
		t.Author = *v
	}
	if v := ev.StrField("done_at"); v != nil {
		t.DoneAt = *v
	}
	if v, ok := ev.NumField("completed_at"); ok {
		t.CompletedAt = int64(v)
	}
	if v := ev.StrField("branch"); v != nil {
		t.Branch = *v
	}
	if v := ev.StrField("kill_reason"); v != nil {
		t.KillReason = *v
	}
	if v := ev.StrField("kill_log"); v != nil {
		t.KillLog = *v
	}
	if v, ok := ev.NumField("created_at"); ok {
		t.CreatedAt = int64(v)
	}
	if v, ok := ev.NumField("updated_at"); ok {
		t.UpdatedAt = int64(v)
	}
}

func writeTicketRow(d *DB, t *tix.Ticket) error {
	_, err := d.Exec(`
		INSERT INTO tickets (
			id, type, status, name, spec, notes, accept, priority,
			parent, created_from, supersedes, supersedes_reason,
			author, completed_at, done_at, branch,
			kill_reason, kill_log,
			created_at, updated_at, resolved_at, compacted_at,
			created_from_name, supersedes_name
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, status=excluded.status, name=excluded.name,
			spec=excluded.spec, notes=excluded.notes, accept=excluded.accept,
			priority=excluded.priority, parent=excluded.parent,
			created_from=excluded.created_from, supersedes=excluded.supersedes,
			supersedes_reason=excluded.supersedes_reason, author=excluded.author,
			completed_at=excluded.completed_at, done_at=excluded.done_at,
			branch=excluded.branch, kill_reason=excluded.kill_reason,
			kill_log=excluded.kill_log, updated_at=excluded.updated_at,
			resolved_at=excluded.resolved_at, compacted_at=excluded.compacted_at,
			created_from_name=excluded.created_from_name,
			supersedes_name=excluded.supersedes_name
	`,
		t.ID, string(t.Type), int(t.Status), t.Name, t.Spec, t.Notes, t.Accept, int(t.Priority),
		t.Parent, t.CreatedFrom, t.Supersedes, t.SupersedesReason,
		t.Author, t.CompletedAt, t.DoneAt, t.Branch,
		t.KillReason, t.KillLog,
		t.CreatedAt, t.UpdatedAt, t.ResolvedAt, t.CompactedAt,
		t.CreatedFromName, t.SupersedesName,
	)
	if err != nil {
		return fmt.Errorf("cache: write ticket: %w", err)
	}
	return nil
}

func writeDeps(d *DB, ticketID string, deps []string) error {
	if _, err := d.Exec("DELETE FROM ticket_deps WHERE ticket_id = ?", ticketID); err != nil {
		return err
	}
	for i, dep := range deps {
		if _, err := d.Exec("INSERT INTO ticket_deps (ticket_id, dep_id, ordinal) VALUES (?,?,?)", ticketID, dep, i); err != nil {
			return err
		}
	}
	return nil
}

func writeLabels(d *DB, ticketID string, labels []string) error {
	if _, err := d.Exec("DELETE FROM ticket_labels WHERE ticket_id = ?", ticketID); err != nil {
		return err
	}
	seen := map[string]bool{}
	i := 0
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		if _, err := d.Exec("INSERT INTO ticket_labels (ticket_id, label, ordinal) VALUES (?,?,?)", ticketID, l, i); err != nil {
			return err
		}
		i++
	}
	return nil
}

func writeMeta(d *DB, ticketID string, meta map[string]tix.MetaValue) error {
	for k, v := range meta {
		var num sql.NullFloat64
		var text sql.NullString
		if v.Num != nil {
			num = sql.NullFloat64{Float64: *v.Num, Valid: true}
		} else if v.Text != nil {
			text = sql.NullString{String: *v.Text, Valid: true}
		}
		_, err := d.Exec(`
			INSERT INTO ticket_meta (ticket_id, key, value_num, value_text)
			VALUES (?,?,?,?)
			ON CONFLICT(ticket_id, key) DO UPDATE SET
				value_num=excluded.value_num, value_text=excluded.value_text
		`, ticketID, k, num, text)
		if err != nil {
			return err
		}
	}
	return nil
}

// ApplyAccept inserts an accept tombstone and moves the ticket to
// accepted (§4.2 replay semantics).
func ApplyAccept(d *DB, ev *tix.RawEvent) error {
	return applyTombstone(d, ev, true)
}

// ApplyReject inserts a reject tombstone and moves the ticket to
// rejected.
func ApplyReject(d *DB, ev *tix.RawEvent) error {
	return applyTombstone(d, ev, false)
}

func applyTombstone(d *DB, ev *tix.RawEvent, isAccept bool) error {
	id, _ := ev.Fields["id"].(string)
	if id == "" {
		return tix.NewError(tix.ErrParse, "apply_tombstone", nil)
	}
	doneAt, _ := ev.Fields["done_at"].(string)
	reason, _ := ev.Fields["reason"].(string)
	name, _ := ev.Fields["name"].(string)
	ts, _ := ev.NumField("timestamp")

	_, err := d.Exec(`
		INSERT INTO tombstones (id, done_at, reason, name, is_accept, timestamp)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id, done_at) DO UPDATE SET
			reason=excluded.reason, name=excluded.name,
			is_accept=excluded.is_accept, timestamp=excluded.timestamp
	`, id, doneAt, reason, name, boolToInt(isAccept), int64(ts))
	if err != nil {
		return fmt.Errorf("cache: write tombstone: %w", err)
	}

	status := tix.StatusRejected
	if isAccept {
		status = tix.StatusAccepted
	}
	resolvedAt := int64(ts)
	_, err = d.Exec("UPDATE tickets SET status = ?, resolved_at = ? WHERE id = ?", int(status), resolvedAt, id)
	if err != nil {
		return fmt.Errorf("cache: resolve ticket: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ApplyDelete marks a ticket deleted without physically removing its row.
func ApplyDelete(d *DB, ev *tix.RawEvent) error {
	id, _ := ev.Fields["id"].(string)
	if id == "" {
		return tix.NewError(tix.ErrParse, "apply_delete", nil)
	}
	ts, _ := ev.NumField("timestamp")
	resolvedAt := int64(ts)
	_, err := d.Exec("UPDATE tickets SET status = ?, resolved_at = ? WHERE id = ?", int(tix.StatusDeleted), resolvedAt, id)
	if err != nil {
		return fmt.Errorf("cache: apply delete: %w", err)
	}
	return nil
}

// GetTicket fetches one ticket row plus its deps/labels/meta.
func GetTicket(d *DB, id string) (*tix.Ticket, bool, error) {
	row := d.QueryRow(`
		SELECT id, type, status, name, spec, notes, accept, priority,
			parent, created_from, supersedes, supersedes_reason,
			author, completed_at, done_at, branch,
			kill_reason, kill_log,
			created_at, updated_at, resolved_at, compacted_at,
			created_from_name, supersedes_name
		FROM tickets WHERE id = ?
	`, id)

	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get ticket: %w", err)
	}
	if err := hydrate(d, t); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*tix.Ticket, error) {
	var t tix.Ticket
	var typ string
	var status, priority int
	err := row.Scan(
		&t.ID, &typ, &status, &t.Name, &t.Spec, &t.Notes, &t.Accept, &priority,
		&t.Parent, &t.CreatedFrom, &t.Supersedes, &t.SupersedesReason,
		&t.Author, &t.CompletedAt, &t.DoneAt, &t.Branch,
		&t.KillReason, &t.KillLog,
		&t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt, &t.CompactedAt,
		&t.CreatedFromName, &t.SupersedesName,
	)
	if err != nil {
		return nil, err
	}
	t.Type = tix.Type(typ)
	t.Status = tix.Status(status)
	t.Priority = tix.Priority(priority)
	return &t, nil
}

func hydrate(d *DB, t *tix.Ticket) error {
	deps, err := queryStrings(d, "SELECT dep_id FROM ticket_deps WHERE ticket_id = ? ORDER BY ordinal", t.ID)
	if err != nil {
		return err
	}
	t.Deps = deps

	labels, err := queryStrings(d, "SELECT label FROM ticket_labels WHERE ticket_id = ? ORDER BY ordinal", t.ID)
	if err != nil {
		return err
	}
	t.Labels = labels

	rows, err := d.Query("SELECT key, value_num, value_text FROM ticket_meta WHERE ticket_id = ?", t.ID)
	if err != nil {
		return fmt.Errorf("cache: meta query: %w", err)
	}
	defer rows.Close()
	meta := map[string]tix.MetaValue{}
	for rows.Next() {
		var key string
		var num sql.NullFloat64
		var text sql.NullString
		if err := rows.Scan(&key, &num, &text); err != nil {
			return err
		}
		if num.Valid {
			meta[key] = tix.NumMeta(num.Float64)
		} else if text.Valid {
			meta[key] = tix.TextMeta(text.String)
		}
	}
	if len(meta) > 0 {
		t.Meta = meta
	}
	return rows.Err()
}

func queryStrings(d *DB, query string, args ...any) ([]string, error) {
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("cache: query strings: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListByType returns every ticket row of the given type, in priority
// desc / created_at asc order (matches BUILD's ready-set ordering,
// §4.8 BUILD step 2).
func ListByType(d *DB, t tix.Type) ([]tix.Ticket, error) {
	rows, err := d.Query(`
		SELECT id, type, status, name, spec, notes, accept, priority,
			parent, created_from, supersedes, supersedes_reason,
			author, completed_at, done_at, branch,
			kill_reason, kill_log,
			created_at, updated_at, resolved_at, compacted_at,
			created_from_name, supersedes_name
		FROM tickets WHERE type = ? ORDER BY priority DESC, created_at ASC, id ASC
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("cache: list by type: %w", err)
	}
	defer rows.Close()

	var out []tix.Ticket
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		if err := hydrate(d, tk); err != nil {
			return nil, err
		}
		out = append(out, *tk)
	}
	return out, rows.Err()
}

// ListTombstones returns every tombstone, most recent first.
func ListTombstones(d *DB) ([]tix.Tombstone, error) {
	rows, err := d.Query("SELECT id, done_at, reason, name, is_accept, timestamp FROM tombstones ORDER BY timestamp DESC")
	if err != nil {
		return nil, fmt.Errorf("cache: list tombstones: %w", err)
	}
	defer rows.Close()

	var out []tix.Tombstone
	for rows.Next() {
		var ts tix.Tombstone
		var isAccept int
		if err := rows.Scan(&ts.ID, &ts.DoneAt, &ts.Reason, &ts.Name, &isAccept, &ts.Timestamp); err != nil {
			return nil, err
		}
		ts.IsAccept = isAccept != 0
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Apply dispatches one replayed event to the appropriate handler — the
// same handler set used at both rebuild time and incremental-write time
// (§4.2 "Rebuild... replay the entire log... through the same event
// handlers used at runtime").
func Apply(d *DB, ev *tix.RawEvent) error {
	switch ev.T {
	case tix.EventTask, tix.EventIssue, tix.EventNote:
		return UpsertTicket(d, ev)
	case tix.EventAccept:
		return ApplyAccept(d, ev)
	case tix.EventReject:
		return ApplyReject(d, ev)
	case tix.EventDelete:
		return ApplyDelete(d, ev)
	case tix.EventConfig, tix.EventSpec, tix.EventStage, tix.EventInbox:
		return nil
	default:
		return nil
	}
}
