package database

import (
	"encoding/json"
	"fmt"
)

// LogAction appends an entry to the reader activity log.
func (db *DB) LogAction(email, action string, metadata map[string]any) error {
	var meta *string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encoding log metadata: %w", err)
		}
		s := string(b)
		meta = &s
	}
	_, err := db.conn.Exec(
		`INSERT INTO user_logs (user_email, action, metadata, created_at) VALUES (?, ?, ?, ?)`,
		email, action, meta, db.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("logging action: %w", err)
	}
	return nil
}

// GetUserLogs returns the most recent activity entries for an email.
func (db *DB) GetUserLogs(email string, limit int) ([]UserLog, error) {
	rows, err := db.conn.Query(
		`SELECT id, user_email, action, metadata, created_at FROM user_logs
		WHERE user_email = ? ORDER BY id DESC LIMIT ?`, email, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []UserLog
	for rows.Next() {
		var l UserLog
		var meta *string
		var created string
		if err := rows.Scan(&l.ID, &l.UserEmail, &l.Action, &meta, &created); err != nil {
			return nil, err
		}
		if meta != nil {
			if err := json.Unmarshal([]byte(*meta), &l.Metadata); err != nil {
				return nil, fmt.Errorf("decoding log metadata: %w", err)
			}
		}
		l.CreatedAt = ParseTime(&created)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
