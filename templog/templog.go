// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package templog records sensor readings in a SQLite database.
package templog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/GermanBionicSystems/owtemp/ds18b20"
	_ "modernc.org/sqlite"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// migrate is executed by Open on every database, it must be idempotent.
//
//go:embed sql/migrate.sql
var migrate string

const queryTimeout = 2 * time.Second

// ErrNotFound is returned by Last when no reading was recorded.
var ErrNotFound = errors.New("templog: no reading")

// Reading is a recorded temperature.
type Reading struct {
	At          time.Time
	Addr        onewire.Address
	Temperature physic.Temperature
}

// DB is a reading log.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" for a
// temporary database.
func Open(path string) (*DB, error) {
	const params = "?_pragma=busy_timeout(1000)&_pragma=journal_mode(WAL)"
	dsn := path + params
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("templog: open %q: %w", dsn, err)
	}
	// A memory database only lives as long as its connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(migrate); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("templog: migration: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Record stores the valid readings of sensors, all with timestamp at.
// It returns the number of readings stored.
func (d *DB) Record(ctx context.Context, at time.Time, sensors []ds18b20.Sensor) (int, error) {
	const query = `
		INSERT INTO reading (Timestamp, Address, Temperature)
		VALUES (?, ?, ?)`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("templog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("templog: prepare: %w", err)
	}
	defer stmt.Close()
	n := 0
	for _, s := range sensors {
		if !s.Valid {
			continue
		}
		if _, err := stmt.ExecContext(ctx, at.UnixNano(), formatAddr(s.Addr), int64(s.Temperature)); err != nil {
			return 0, fmt.Errorf("templog: insert: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("templog: commit: %w", err)
	}
	return n, nil
}

// Last returns the most recent reading of addr.
func (d *DB) Last(ctx context.Context, addr onewire.Address) (Reading, error) {
	const query = `
		SELECT Timestamp, Temperature
		FROM reading
		WHERE Address = ?
		ORDER BY Timestamp DESC, Id DESC
		LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var ts, t int64
	if err := d.db.QueryRowContext(ctx, query, formatAddr(addr)).Scan(&ts, &t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reading{}, ErrNotFound
		}
		return Reading{}, fmt.Errorf("templog: query: %w", err)
	}
	return Reading{At: time.Unix(0, ts), Addr: addr, Temperature: physic.Temperature(t)}, nil
}

// Since returns every reading recorded at or after t, oldest first.
func (d *DB) Since(ctx context.Context, t time.Time) ([]Reading, error) {
	const query = `
		SELECT Timestamp, Address, Temperature
		FROM reading
		WHERE Timestamp >= ?
		ORDER BY Timestamp, Id`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := d.db.QueryContext(ctx, query, t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("templog: query: %w", err)
	}
	defer rows.Close()
	var out []Reading
	for rows.Next() {
		var ts, temp int64
		var a string
		if err := rows.Scan(&ts, &a, &temp); err != nil {
			return nil, fmt.Errorf("templog: scan: %w", err)
		}
		addr, err := parseAddr(a)
		if err != nil {
			return nil, err
		}
		out = append(out, Reading{At: time.Unix(0, ts), Addr: addr, Temperature: physic.Temperature(temp)})
	}
	return out, rows.Err()
}

// Addresses are stored as text since SQLite integers are signed.
func formatAddr(a onewire.Address) string {
	return fmt.Sprintf("%016x", uint64(a))
}

func parseAddr(s string) (onewire.Address, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("templog: bad address %q: %w", s, err)
	}
	return onewire.Address(v), nil
}
