// Package hashstore persists (dir, filename, size, mtime, hash) tuples
// used for idempotent re-upload suppression, per spec.md §3 and §4.B.
package hashstore

import (
	"bufio"
	"database/sql"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go sqlite driver registration
)

// Key identifies a hash record: the remote directory and filename it
// describes, scoped to a config_id by the caller.
type Key struct {
	RemoteDir string
	Filename  string
}

// Record is the durable value stored for a Key, per spec.md §3.
type Record struct {
	Size        int64
	ModTime     int64 // epoch seconds
	Fingerprint uint64
}

// Store is a SQLite-backed, concurrent-safe hash store. WAL mode plus a
// busy timeout gives cross-goroutine-of-one-process safety on the
// happy path; the legacy text-file migration path additionally takes a
// per-Store mutex.
type Store struct {
	db *sql.DB

	migrateMu sync.Mutex
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*Store, error) {
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("hashstore: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("hashstore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexAny(path, `/\`)
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS file_hashes (
		config_id   TEXT NOT NULL,
		remote_dir  TEXT NOT NULL,
		filename    TEXT NOT NULL,
		size        INTEGER NOT NULL,
		mod_time    INTEGER NOT NULL,
		fingerprint INTEGER NOT NULL,
		PRIMARY KEY (config_id, remote_dir, filename)
	)`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fingerprint computes the 64-bit non-cryptographic hash of
// "<remote_dir>|<filename>|<size>|<mtime_epoch>" per spec.md §3. It is a
// pure function of its inputs (property P2).
func Fingerprint(remoteDir, filename string, size, modTime int64) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d", remoteDir, filename, size, modTime)
	return h.Sum64()
}

// LoadAll returns every record stored for configID.
func (s *Store) LoadAll(configID string) (map[Key]Record, error) {
	rows, err := s.db.Query(
		`SELECT remote_dir, filename, size, mod_time, fingerprint FROM file_hashes WHERE config_id = ?`,
		configID,
	)
	if err != nil {
		return nil, fmt.Errorf("hashstore: load all: %w", err)
	}
	defer rows.Close()

	out := make(map[Key]Record)
	for rows.Next() {
		var k Key
		var r Record
		if err := rows.Scan(&k.RemoteDir, &k.Filename, &r.Size, &r.ModTime, &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("hashstore: scan: %w", err)
		}
		out[k] = r
	}
	return out, rows.Err()
}

// Record upserts the (size, mtime, fingerprint) tuple for
// (configID, remoteDir, filename).
func (s *Store) Record(configID, remoteDir, filename string, size, modTime int64, fingerprint uint64) error {
	_, err := s.db.Exec(`
	INSERT INTO file_hashes (config_id, remote_dir, filename, size, mod_time, fingerprint)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(config_id, remote_dir, filename) DO UPDATE SET
		size=excluded.size,
		mod_time=excluded.mod_time,
		fingerprint=excluded.fingerprint
	`, configID, remoteDir, filename, size, modTime, fingerprint)
	if err != nil {
		return fmt.Errorf("hashstore: record: %w", err)
	}
	return nil
}

// DeleteAll removes every record for configID, returning the count
// removed.
func (s *Store) DeleteAll(configID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM file_hashes WHERE config_id = ?`, configID)
	if err != nil {
		return 0, fmt.Errorf("hashstore: delete all: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Unchanged reports whether a candidate with the given key and freshly
// computed (size, mtime) matches a previously stored record.
func Unchanged(records map[Key]Record, k Key, size, modTime int64) bool {
	rec, ok := records[k]
	if !ok {
		return false
	}
	fp := Fingerprint(k.RemoteDir, k.Filename, size, modTime)
	return rec.Fingerprint == fp
}

// MigrateFromTextFile imports a legacy hash file into the store for
// configID, accepting both the 3-field
// "remote_dir|filename|fingerprint" and the 5-field
// "remote_dir|filename|size|mtime|fingerprint" line formats, per
// spec.md §4.B. It returns the number of records migrated.
//
// Concurrent migrations on the same Store are serialized by migrateMu.
func (s *Store) MigrateFromTextFile(configID, path string) (int, error) {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("hashstore: open legacy file: %w", err)
	}
	defer f.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("hashstore: begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, ok := parseLegacyLine(line)
		if !ok {
			continue
		}
		_, err := tx.Exec(`
		INSERT INTO file_hashes (config_id, remote_dir, filename, size, mod_time, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(config_id, remote_dir, filename) DO UPDATE SET
			size=excluded.size, mod_time=excluded.mod_time, fingerprint=excluded.fingerprint
		`, configID, rec.key.RemoteDir, rec.key.Filename, rec.rec.Size, rec.rec.ModTime, rec.rec.Fingerprint)
		if err != nil {
			return count, fmt.Errorf("hashstore: migrate insert: %w", err)
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return count, fmt.Errorf("hashstore: scan legacy file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return count, fmt.Errorf("hashstore: commit migration: %w", err)
	}
	return count, nil
}

type legacyRecord struct {
	key Key
	rec Record
}

// parseLegacyLine accepts both
//   remote_dir|filename|fingerprint              (3 fields)
//   remote_dir|filename|size|mtime|fingerprint    (5 fields)
func parseLegacyLine(line string) (legacyRecord, bool) {
	fields := strings.Split(line, "|")
	var out legacyRecord
	switch len(fields) {
	case 3:
		fp, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return out, false
		}
		out.key = Key{RemoteDir: fields[0], Filename: fields[1]}
		out.rec = Record{Fingerprint: fp}
		return out, true
	case 5:
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return out, false
		}
		mtime, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return out, false
		}
		fp, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return out, false
		}
		out.key = Key{RemoteDir: fields[0], Filename: fields[1]}
		out.rec = Record{Size: size, ModTime: mtime, Fingerprint: fp}
		return out, true
	default:
		return out, false
	}
}
