package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ssd-technologies/hardhat/internal/registry"
)

// Compile-time assertion that DB can back a registry.
var _ registry.Persister = (*DB)(nil)

// Load returns all registrations in their saved order.
func (d *DB) Load() ([]registry.Info, error) {
	rows, err := d.db.Query(
		`SELECT worker_id, name, phone, emergency_phone, address, registered_at
		 FROM registrations ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var infos []registry.Info
	for rows.Next() {
		var (
			info                           registry.Info
			phone, emergencyPhone, address sql.NullString
			registeredAt                   string
		)
		if err := rows.Scan(&info.WorkerID, &info.Name, &phone, &emergencyPhone, &address, &registeredAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		info.Phone = fromNull(phone)
		info.EmergencyPhone = fromNull(emergencyPhone)
		info.Address = fromNull(address)
		if ts, err := time.Parse(time.RFC3339Nano, registeredAt); err == nil {
			info.RegisteredAt = ts
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Save replaces the stored registrations with infos in one transaction.
func (d *DB) Save(infos []registry.Info) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM registrations`); err != nil {
		return fmt.Errorf("clear registrations: %w", err)
	}
	for i, info := range infos {
		_, err := tx.Exec(
			`INSERT INTO registrations (worker_id, position, name, phone, emergency_phone, address, registered_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			info.WorkerID, i, info.Name, toNull(info.Phone), toNull(info.EmergencyPhone), toNull(info.Address),
			info.RegisteredAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert registration %s: %w", info.WorkerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
