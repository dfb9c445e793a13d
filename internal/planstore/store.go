// Package planstore implements the Plan Store API (§4.4): the surface
// the rest of the engine mutates the plan log and ticket cache through.
// It is grounded on the pack's own issue-storage Storage/Transaction
// interface pair — one struct that owns both the append-only log and
// its derived cache, exposing upsert/get/list/tombstone/validate.
package planstore

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ralphdev/tix/internal/gitutil"
	"github.com/ralphdev/tix/internal/tix"
	"github.com/ralphdev/tix/internal/tix/cache"
)

// Store bundles the plan log and its ticket cache, keeping them in sync
// on every write (§4.4 upsert_ticket: "writes one event line to the
// log; updates the cache within the same call").
type Store struct {
	log  *tix.PlanLog
	db   *cache.DB
	repo *gitutil.Repo
}

// Options configures where the log and cache live.
type Options struct {
	LogPath   string
	CachePath string
	RepoRoot  string
}

// Open opens (creating if absent) the log and cache, rebuilding the
// cache if it is stale relative to the current git HEAD and log size.
func Open(opts Options) (*Store, error) {
	if opts.LogPath == "" {
		opts.LogPath = tix.DefaultLogPath
	}
	if opts.CachePath == "" {
		opts.CachePath = cache.DefaultPath
	}
	if opts.RepoRoot == "" {
		opts.RepoRoot = "."
	}

	log, err := tix.NewPlanLog(opts.LogPath)
	if err != nil {
		return nil, err
	}
	db, err := cache.Open(opts.CachePath)
	if err != nil {
		return nil, tix.NewError(tix.ErrIO, "open_cache", err)
	}

	s := &Store{log: log, db: db, repo: gitutil.Open(opts.RepoRoot)}
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the cache connection.
func (s *Store) Close() error { return s.db.Close() }

// Log exposes the underlying plan log for components (the Orchestrator)
// that need to append `config`/`spec`/`stage` informational events
// directly.
func (s *Store) Log() *tix.PlanLog { return s.log }

// DB exposes the underlying ticket cache for read-only query
// compilers (the TQL engine) that need to run arbitrary SELECTs
// beyond the Filter shape ListTicketsFiltered supports.
func (s *Store) DB() *cache.DB { return s.db }

func (s *Store) headCommit() string {
	head, err := s.repo.HeadCommit()
	if err != nil {
		return ""
	}
	return head
}

// ensureFresh rebuilds the cache from the log if it is stale (§4.2,
// testable property "Stale cache rebuild").
func (s *Store) ensureFresh() error {
	head := s.headCommit()
	size, err := s.log.Size()
	if err != nil {
		return err
	}
	stale, err := cache.Freshness(s.db, head, size)
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}
	return s.Rebuild()
}

// Rebuild truncates the cache and replays the entire log through the
// same handlers used at incremental-write time — idempotent and
// order-preserving (§4.2).
func (s *Store) Rebuild() error {
	if err := cache.Truncate(s.db); err != nil {
		return err
	}
	_, err := s.log.Replay(func(ev *tix.RawEvent) error {
		return cache.Apply(s.db, ev)
	})
	if err != nil {
		return err
	}
	size, err := s.log.Size()
	if err != nil {
		return err
	}
	return cache.MarkFresh(s.db, s.headCommit(), size)
}

// UpsertTicket writes the ticket's event line to the log and applies it
// to the cache in the same call (§4.4).
func (s *Store) UpsertTicket(t *tix.Ticket) error {
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	line, err := tix.EncodeTicketEvent(t)
	if err != nil {
		return tix.NewError(tix.ErrInvalidArg, "upsert_ticket", err)
	}
	if err := s.log.Append(line); err != nil {
		return err
	}
	ev, err := tix.ParseEventLine(line)
	if err != nil {
		return err
	}
	if err := cache.Apply(s.db, ev); err != nil {
		return tix.NewError(tix.ErrIO, "upsert_ticket", err)
	}
	return s.touchLogSize()
}

// AppendRaw appends an already-encoded event line (used for
// accept/reject/delete, and for executor-produced new_events batches,
// §4.8) and applies it to the cache.
func (s *Store) AppendRaw(line []byte) error {
	if err := s.log.Append(line); err != nil {
		return err
	}
	ev, err := tix.ParseEventLine(line)
	if err != nil {
		return err
	}
	if err := cache.Apply(s.db, ev); err != nil {
		return tix.NewError(tix.ErrIO, "append_raw", err)
	}
	return s.touchLogSize()
}

// AppendBatch appends and applies multiple lines atomically from the
// cache's point of view: the log append happens as one contiguous
// write, and cache application happens in the same order (§6.3 batch,
// §4.8 "applies new_events atomically").
func (s *Store) AppendBatch(lines [][]byte) error {
	if err := s.log.AppendAll(lines); err != nil {
		return err
	}
	for _, line := range lines {
		ev, err := tix.ParseEventLine(line)
		if err != nil {
			continue
		}
		if err := cache.Apply(s.db, ev); err != nil {
			return tix.NewError(tix.ErrIO, "append_batch", err)
		}
	}
	return s.touchLogSize()
}

func (s *Store) touchLogSize() error {
	size, err := s.log.Size()
	if err != nil {
		return err
	}
	return cache.MarkFresh(s.db, s.headCommit(), size)
}

// GetTicket retrieves a ticket by id.
func (s *Store) GetTicket(id string) (*tix.Ticket, error) {
	t, found, err := cache.GetTicket(s.db, id)
	if err != nil {
		return nil, tix.NewError(tix.ErrIO, "get_ticket", err)
	}
	if !found {
		return nil, tix.NewError(tix.ErrNotFound, "get_ticket", nil)
	}
	return t, nil
}

// Filter is the simple field-filter shape list_tickets_filtered uses on
// hot paths, bypassing TQL compilation (§4.4).
type Filter struct {
	Type       tix.Type
	Status     *tix.Status
	MaxStatus  *tix.Status // exclusive upper bound, e.g. status < 2
	KillReason *string     // non-nil keeps only tickets whose kill_reason is set; the pointed-to value is not compared
}

// ListTicketsFiltered applies a Filter directly against the cache.
func (s *Store) ListTicketsFiltered(f Filter) ([]tix.Ticket, error) {
	all, err := cache.ListByType(s.db, f.Type)
	if err != nil {
		return nil, tix.NewError(tix.ErrIO, "list_tickets_filtered", err)
	}
	out := make([]tix.Ticket, 0, len(all))
	for _, t := range all {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.MaxStatus != nil && t.Status >= *f.MaxStatus {
			continue
		}
		if f.KillReason != nil && t.KillReason == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ListTombstones returns every tombstone, most recent first.
func (s *Store) ListTombstones() ([]tix.Tombstone, error) {
	ts, err := cache.ListTombstones(s.db)
	if err != nil {
		return nil, tix.NewError(tix.ErrIO, "list_tombstones", err)
	}
	return ts, nil
}

// AddTombstone appends an accept or reject event.
func (s *Store) AddTombstone(id, doneAt, reason, name string, isAccept bool) error {
	var line []byte
	var err error
	if isAccept {
		line, err = tix.EncodeAcceptEvent(id, doneAt, reason, name, time.Now().Unix())
	} else {
		line, err = tix.EncodeRejectEvent(id, doneAt, reason, name, time.Now().Unix())
	}
	if err != nil {
		return tix.NewError(tix.ErrInvalidArg, "add_tombstone", err)
	}
	return s.AppendRaw(line)
}

// DeleteTicket appends a delete event and applies it to the cache.
func (s *Store) DeleteTicket(id string) error {
	line, err := tix.EncodeDeleteEvent(id, time.Now().Unix())
	if err != nil {
		return tix.NewError(tix.ErrInvalidArg, "delete_ticket", err)
	}
	return s.AppendRaw(line)
}

// ResolveRef reports whether id is resolved, stale, or broken (§4.4).
func (s *Store) ResolveRef(id string) tix.RefState {
	t, found, err := cache.GetTicket(s.db, id)
	if err != nil || !found {
		return tix.RefBroken
	}
	if t.Status < tix.StatusAccepted {
		return tix.RefResolved
	}
	return tix.RefStale
}

// CountRefs reports broken vs. stale counts across every deps / parent /
// created_from / supersedes edge, for validate() (§4.4).
func (s *Store) CountRefs() (tix.RefCounts, error) {
	var counts tix.RefCounts
	for _, typ := range []tix.Type{tix.TypeTask, tix.TypeIssue, tix.TypeNote} {
		tickets, err := cache.ListByType(s.db, typ)
		if err != nil {
			return counts, err
		}
		for _, t := range tickets {
			edges := append([]string{}, t.Deps...)
			for _, e := range []string{t.Parent, t.CreatedFrom, t.Supersedes} {
				if e != "" {
					edges = append(edges, e)
				}
			}
			for _, e := range edges {
				switch s.ResolveRef(e) {
				case tix.RefBroken:
					counts.Broken++
				case tix.RefStale:
					counts.Stale++
				}
			}
		}
	}
	return counts, nil
}

// Validate checks dependency references, cycles, tombstone consistency
// and id uniqueness (§4.4).
func (s *Store) Validate() (*tix.ValidationResult, error) {
	result := &tix.ValidationResult{Valid: true}

	tasks, err := cache.ListByType(s.db, tix.TypeTask)
	if err != nil {
		return nil, err
	}
	issues, err := cache.ListByType(s.db, tix.TypeIssue)
	if err != nil {
		return nil, err
	}
	notes, err := cache.ListByType(s.db, tix.TypeNote)
	if err != nil {
		return nil, err
	}
	all := append(append(append([]tix.Ticket{}, tasks...), issues...), notes...)

	byID := map[string]*tix.Ticket{}
	for i := range all {
		if _, dup := byID[all[i].ID]; dup {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("duplicate ticket id %s", all[i].ID))
		}
		byID[all[i].ID] = &all[i]
	}

	for _, t := range all {
		for _, dep := range t.Deps {
			if _, ok := byID[dep]; !ok {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("%s: broken dependency reference %s", t.ID, dep))
			}
		}
	}

	if cyc := findCycle(byID); cyc != "" {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("dependency cycle detected: %s", cyc))
	}

	tombstones, err := cache.ListTombstones(s.db)
	if err != nil {
		return nil, err
	}
	accepted, rejected := 0, 0
	for _, ts := range tombstones {
		if ts.IsAccept {
			accepted++
		} else {
			rejected++
		}
	}
	acceptedTickets, rejectedTickets := 0, 0
	for _, t := range all {
		switch t.Status {
		case tix.StatusAccepted:
			acceptedTickets++
		case tix.StatusRejected:
			rejectedTickets++
		}
	}
	if accepted < acceptedTickets {
		result.Warnings = append(result.Warnings, "fewer accept tombstones than accepted tickets")
	}
	if rejected < rejectedTickets {
		result.Warnings = append(result.Warnings, "fewer reject tombstones than rejected tickets")
	}

	return result, nil
}

func findCycle(byID map[string]*tix.Ticket) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		path = append(path, id)
		t, ok := byID[id]
		if ok {
			for _, dep := range t.Deps {
				if color[dep] == gray {
					return strings.Join(append(path, dep), " -> ")
				}
				if color[dep] == white {
					if c := visit(dep); c != "" {
						return c
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return ""
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// SearchResult is one scored hit from Search.
type SearchResult struct {
	Ticket tix.Ticket
	Score  float64
}

// Search performs simple-tokenization full-text retrieval over
// name+notes+accept, returning the top k scored results (§4.4).
func (s *Store) Search(query string, k int) ([]SearchResult, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var all []tix.Ticket
	for _, typ := range []tix.Type{tix.TypeTask, tix.TypeIssue, tix.TypeNote} {
		ts, err := cache.ListByType(s.db, typ)
		if err != nil {
			return nil, err
		}
		all = append(all, ts...)
	}

	var results []SearchResult
	for _, t := range all {
		haystack := strings.ToLower(t.Name + " " + t.Notes + " " + t.Accept)
		score := 0.0
		for _, term := range terms {
			score += float64(strings.Count(haystack, term))
		}
		if score > 0 {
			results = append(results, SearchResult{Ticket: t, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// KeywordCloud tallies term frequency across every ticket's name, a
// helper for dashboards (§4.4).
func (s *Store) KeywordCloud() (map[string]int, error) {
	counts := map[string]int{}
	for _, typ := range []tix.Type{tix.TypeTask, tix.TypeIssue, tix.TypeNote} {
		ts, err := cache.ListByType(s.db, typ)
		if err != nil {
			return nil, err
		}
		for _, t := range ts {
			for _, term := range tokenize(t.Name) {
				counts[term]++
			}
		}
	}
	return counts, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// PlanCompactOptions configures a compaction pass.
type PlanCompactOptions struct {
	// Committed is the set of resolved ticket ids that are safe to drop
	// because their history is already committed upstream. Only resolved
	// tickets named here are dropped; every ticket not in the set is
	// kept, so an empty or nil set drops nothing.
	Committed map[string]bool
}

// PlanCompact rewrites the log: one line per still-present ticket, then
// tombstones, skipping resolved+committed tickets but preserving
// resolved-but-uncommitted ones (§4.2, §8 scenario 9).
func (s *Store) PlanCompact(opts PlanCompactOptions) error {
	var all []tix.Ticket
	for _, typ := range []tix.Type{tix.TypeTask, tix.TypeIssue, tix.TypeNote} {
		ts, err := cache.ListByType(s.db, typ)
		if err != nil {
			return err
		}
		all = append(all, ts...)
	}
	tombstones, err := cache.ListTombstones(s.db)
	if err != nil {
		return err
	}

	keep := map[string]bool{}
	var lines [][]byte
	for _, t := range all {
		if t.Status >= tix.StatusAccepted && opts.Committed[t.ID] {
			continue // dropped: resolved and committed
		}
		keep[t.ID] = true
		line, err := tix.EncodeTicketEvent(&t)
		if err != nil {
			return tix.NewError(tix.ErrInvalidArg, "plan_compact", err)
		}
		lines = append(lines, line)
	}
	for _, ts := range tombstones {
		if !keep[ts.ID] {
			continue
		}
		var line []byte
		var err error
		if ts.IsAccept {
			line, err = tix.EncodeAcceptEvent(ts.ID, ts.DoneAt, ts.Reason, ts.Name, ts.Timestamp)
		} else {
			line, err = tix.EncodeRejectEvent(ts.ID, ts.DoneAt, ts.Reason, ts.Name, ts.Timestamp)
		}
		if err != nil {
			return tix.NewError(tix.ErrInvalidArg, "plan_compact", err)
		}
		lines = append(lines, line)
	}

	tmpPath := s.log.Path() + ".compact"
	newLog, err := tix.NewPlanLog(tmpPath)
	if err != nil {
		return err
	}
	if err := newLog.AppendAll(lines); err != nil {
		return err
	}
	if err := replacePlanLog(s.log.Path(), tmpPath); err != nil {
		return err
	}
	return s.Rebuild()
}

// replacePlanLog atomically swaps the compacted log into place.
func replacePlanLog(original, compacted string) error {
	return os.Rename(compacted, original)
}

// StampCacheDebug renders the freshness triple for the status/debug
// surfaces (not part of the spec's persisted state, purely diagnostic).
func (s *Store) StampCacheDebug() string {
	head := s.headCommit()
	size, _ := s.log.Size()
	return "head=" + head + " log_size=" + strconv.FormatInt(size, 10)
}
