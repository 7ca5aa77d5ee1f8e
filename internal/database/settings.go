package database

import (
	"database/sql"
	"fmt"
	"time"
)

// GetAPISetting returns a setting by name.
func (db *DB) GetAPISetting(name string) (*APISetting, error) {
	row := db.conn.QueryRow(
		`SELECT api_name, is_active, last_run, run_interval, updated_at FROM api_settings WHERE api_name = ?`,
		name,
	)
	s, err := scanSetting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListAPISettings returns all settings ordered by name.
func (db *DB) ListAPISettings() ([]APISetting, error) {
	rows, err := db.conn.Query(
		`SELECT api_name, is_active, last_run, run_interval, updated_at FROM api_settings ORDER BY api_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []APISetting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, *s)
	}
	return settings, rows.Err()
}

// UpdateAPISetting changes the active flag and, when positive, the run
// interval of a setting. It creates the row if it does not exist.
func (db *DB) UpdateAPISetting(name string, active bool, runInterval int) (*APISetting, error) {
	_, err := db.conn.Exec(
		`INSERT INTO api_settings (api_name, is_active, run_interval, updated_at)
		VALUES (?, ?, CASE WHEN ? > 0 THEN ? ELSE 60 END, ?)
		ON CONFLICT(api_name) DO UPDATE SET
			is_active = excluded.is_active,
			run_interval = CASE WHEN ? > 0 THEN ? ELSE api_settings.run_interval END,
			updated_at = excluded.updated_at`,
		name, active, runInterval, runInterval, db.timestamp(), runInterval, runInterval,
	)
	if err != nil {
		return nil, fmt.Errorf("updating setting %s: %w", name, err)
	}
	return db.GetAPISetting(name)
}

// ClaimRun decides whether the named job should run now and, if so, records
// the run. A missing row counts as active. With respectInterval the job only
// runs once run_interval minutes have passed since last_run.
func (db *DB) ClaimRun(name string, respectInterval bool) (bool, error) {
	s, err := db.GetAPISetting(name)
	if err != nil {
		return false, err
	}
	if s != nil {
		if !s.IsActive {
			return false, nil
		}
		if respectInterval && !s.Due(db.now()) {
			return false, nil
		}
	}
	if err := db.MarkRun(name); err != nil {
		return false, err
	}
	return true, nil
}

// MarkRun sets last_run to now, creating the row if needed.
func (db *DB) MarkRun(name string) error {
	now := db.timestamp()
	_, err := db.conn.Exec(
		`INSERT INTO api_settings (api_name, is_active, last_run, updated_at) VALUES (?, 1, ?, ?)
		ON CONFLICT(api_name) DO UPDATE SET last_run = excluded.last_run`,
		name, now, now,
	)
	return err
}

// Due reports whether the interval since the last run has elapsed.
func (s *APISetting) Due(now time.Time) bool {
	if s.LastRun == nil {
		return true
	}
	return !now.Before(s.LastRun.Add(time.Duration(s.RunInterval) * time.Minute))
}

func scanSetting(row scanner) (*APISetting, error) {
	var s APISetting
	var active int
	var lastRun, updated *string
	if err := row.Scan(&s.APIName, &active, &lastRun, &s.RunInterval, &updated); err != nil {
		return nil, err
	}
	s.IsActive = active != 0
	if t := ParseTime(lastRun); !t.IsZero() {
		s.LastRun = &t
	}
	if t := ParseTime(updated); !t.IsZero() {
		s.UpdatedAt = &t
	}
	return &s, nil
}
