// Package localstore implements the query-optimized local store: a
// transactional, indexed table of current ranges plus an append-only
// change journal, backed by SQLite with WAL journal mode, a single
// writer connection, and indices that make overlap and point lookups
// cheap.
package localstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/freeconet/numbex/interval"
	"github.com/freeconet/numbex/record"
)

// Config holds local-store configuration.
type Config struct {
	// Path is the SQLite file path. The special value ":memory:" opens
	// an in-process database, used by tests and by read-only probes.
	Path string
}

// Store is the local store: a SQLite-backed table of current ranges,
// with an in-memory interval-tree cache for microsecond point lookups
// and an append-only change journal for the reconciler's export path.
type Store struct {
	Cfg Config
	Log *zap.SugaredLogger

	db *sql.DB

	mu   sync.RWMutex // guards tree, rebuilt after every committed mutation
	tree *interval.Tree
}

// Open opens (creating if absent) the SQLite-backed local store at
// cfg.Path and rebuilds the point-lookup cache from its current
// contents.
func Open(cfg Config, log *zap.SugaredLogger) (*Store, error) {
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating local store directory: %w", err)
			}
		}
	}

	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging local store: %w", err)
	}
	// SQLite has exactly one writer; a wider idle pool just buys lock
	// contention without any throughput benefit.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing local store schema: %w", err)
	}

	s := &Store{Cfg: cfg, Log: log, db: db}
	if err := s.rebuildTree(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebuildTree() error {
	rows, err := s.db.Query(`SELECT start, "end", start_n, end_n, sip, owner, mdate, sig FROM ranges`)
	if err != nil {
		return fmt.Errorf("rebuilding interval cache: %w", err)
	}
	defer rows.Close()

	tree := interval.New()
	for rows.Next() {
		var r record.Record
		var startN, endN int64
		var mdateText string
		if err := rows.Scan(&r.Start, &r.End, &startN, &endN, &r.SIP, &r.Owner, &mdateText, &r.Sig); err != nil {
			return err
		}
		r.Mdate, err = record.ParseISODateTime(mdateText)
		if err != nil {
			return err
		}
		tree.Insert(startN, endN, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	return nil
}

// GetRange returns the record whose textual start key matches exactly,
// or (Record{}, false) if none exists.
func (s *Store) GetRange(start string) (record.Record, bool, error) {
	row := s.db.QueryRow(`SELECT start, "end", sip, owner, mdate, sig FROM ranges WHERE start = ?`, start)
	return scanOneRecord(row)
}

// GetRangeFor answers the point-lookup query used by the UDP range-lookup
// adapter: the record whose interval contains number, served from the
// in-memory tree so the adapter can hit microsecond latency.
func (s *Store) GetRangeFor(number string) (record.Record, bool, error) {
	n, err := (record.Record{Start: number}).StartInt()
	if err != nil {
		return record.Record{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.tree.Query(n, n) {
		r := e.Payload.(record.Record)
		if sn, _ := r.StartInt(); sn <= n {
			if en, _ := r.EndInt(); n <= en {
				return r, true, nil
			}
		}
	}
	return record.Record{}, false, nil
}

// GetAll returns every record ordered by int(start).
func (s *Store) GetAll() ([]record.Record, error) {
	rows, err := s.db.Query(`SELECT start, "end", sip, owner, mdate, sig FROM ranges ORDER BY start_n ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetSince returns every record whose mdate is at or after t, ordered
// by int(start).
func (s *Store) GetSince(t time.Time) ([]record.Record, error) {
	rows, err := s.db.Query(
		`SELECT start, "end", sip, owner, mdate, sig FROM ranges WHERE mdate >= ? ORDER BY start_n ASC`,
		record.Record{Mdate: t}.MdateText())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetUnsigned returns every record with an empty sig — the trim/split
// leftovers awaiting re-signature by their owner.
func (s *Store) GetUnsigned() ([]record.Record, error) {
	rows, err := s.db.Query(`SELECT start, "end", sip, owner, mdate, sig FROM ranges WHERE sig = '' ORDER BY start_n ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// HasChanges reports whether the change journal is non-empty.
func (s *Store) HasChanges() (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM range_changes`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ChangeKind is the tagged variant of a change-journal entry: one of
// Added, Modified, Deleted, each carrying the affected endpoints.
type ChangeKind string

const (
	Added    ChangeKind = "A"
	Modified ChangeKind = "M"
	Deleted  ChangeKind = "D"
)

// Change is one entry of the append-only change journal.
type Change struct {
	Kind  ChangeKind
	Start string
	End   string
}

// GetChangeJournal returns the journal in logging order.
func (s *Store) GetChangeJournal() ([]Change, error) {
	rows, err := s.db.Query(`SELECT kind, start, "end" FROM range_changes ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.Kind, &c.Start, &c.End); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearChangeJournal truncates the journal, called atomically by the
// reconciler on successful export.
func (s *Store) ClearChangeJournal() error {
	_, err := s.db.Exec(`DELETE FROM range_changes`)
	return err
}

// RegisterPublicKey adds a PEM-encoded key to owner's key set. Keys are
// additive: registering the same (owner, pem) pair twice is a no-op.
func (s *Store) RegisterPublicKey(owner, pem string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO owners(name) VALUES (?)`, owner); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO pubkeys(owner, pem) VALUES (?, ?)`, owner, pem)
	return err
}

// RemovePublicKey removes a single registered key, identified by its
// PEM text (the external interface's remove_public_key(keyid)).
func (s *Store) RemovePublicKey(owner, pem string) error {
	_, err := s.db.Exec(`DELETE FROM pubkeys WHERE owner = ? AND pem = ?`, owner, pem)
	return err
}

// PublicKeys returns every PEM-encoded key registered to owner.
func (s *Store) PublicKeys(owner string) ([]string, error) {
	rows, err := s.db.Query(`SELECT pem FROM pubkeys WHERE owner = ?`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var pem string
		if err := rows.Scan(&pem); err != nil {
			return nil, err
		}
		out = append(out, pem)
	}
	return out, rows.Err()
}

func scanOneRecord(row *sql.Row) (record.Record, bool, error) {
	var r record.Record
	var mdateText string
	err := row.Scan(&r.Start, &r.End, &r.SIP, &r.Owner, &mdateText, &r.Sig)
	if err == sql.ErrNoRows {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, err
	}
	r.Mdate, err = record.ParseISODateTime(mdateText)
	if err != nil {
		return record.Record{}, false, err
	}
	return r, true, nil
}

func scanRecords(rows *sql.Rows) ([]record.Record, error) {
	var out []record.Record
	for rows.Next() {
		var r record.Record
		var mdateText string
		if err := rows.Scan(&r.Start, &r.End, &r.SIP, &r.Owner, &mdateText, &r.Sig); err != nil {
			return nil, err
		}
		mdate, err := record.ParseISODateTime(mdateText)
		if err != nil {
			return nil, err
		}
		r.Mdate = mdate
		out = append(out, r)
	}
	return out, rows.Err()
}
