// Package scanstore keeps an expanding knowledge base of network segments and
// ports where validated relay endpoints have been found. The sweep source
// unions these with the configured subnets/ports, so future scans broaden
// toward territory that has paid off before.
package scanstore

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/JE668/get-m3u/internal/endpoint"
)

// Store is the sqlite-backed knowledge base. A nil *Store is valid and inert,
// so callers need no disabled-path branching.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the knowledge base at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scanstore: %w", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS segments (prefix TEXT PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS ports (port INTEGER PRIMARY KEY)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("scanstore: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordEndpoints stores each validated endpoint's /24 segment and port.
func (s *Store) RecordEndpoints(hostports []string) error {
	if s == nil {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("scanstore: %w", err)
	}
	defer tx.Rollback()
	for _, hp := range hostports {
		c, err := endpoint.Parse(hp)
		if err != nil {
			continue
		}
		prefix := segmentOf(c.Host)
		if prefix == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO segments (prefix) VALUES (?)`, prefix); err != nil {
			return fmt.Errorf("scanstore: %w", err)
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO ports (port) VALUES (?)`, c.Port); err != nil {
			return fmt.Errorf("scanstore: %w", err)
		}
	}
	return tx.Commit()
}

// Segments returns known /24 blocks in CIDR form, e.g. "120.80.13.0/24".
func (s *Store) Segments() ([]string, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT prefix FROM segments ORDER BY prefix`)
	if err != nil {
		return nil, fmt.Errorf("scanstore: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanstore: %w", err)
		}
		out = append(out, p+".0/24")
	}
	return out, rows.Err()
}

// Ports returns known endpoint ports, ascending.
func (s *Store) Ports() ([]int, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT port FROM ports ORDER BY port`)
	if err != nil {
		return nil, fmt.Errorf("scanstore: %w", err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanstore: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// segmentOf returns "a.b.c" for an IPv4 host string.
func segmentOf(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return ""
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return ""
		}
	}
	return strings.Join(parts[:3], ".")
}
