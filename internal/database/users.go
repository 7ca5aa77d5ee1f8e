package database

import (
	"database/sql"
	"fmt"
)

// RegisterUser creates a user if the email is not yet known. It reports
// whether a new row was written.
func (db *DB) RegisterUser(email, username string) (bool, error) {
	res, err := db.conn.Exec(
		`INSERT OR IGNORE INTO users (email, username, created_at) VALUES (?, ?, ?)`,
		email, username, db.timestamp(),
	)
	if err != nil {
		return false, fmt.Errorf("registering user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetUser returns a user by email.
func (db *DB) GetUser(email string) (*User, error) {
	var u User
	var created string
	err := db.conn.QueryRow(
		`SELECT email, username, created_at FROM users WHERE email = ?`, email,
	).Scan(&u.Email, &u.Username, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = ParseTime(&created)
	return &u, nil
}

// ListUsers returns a page of users, newest first.
func (db *DB) ListUsers(limit, offset int) ([]User, error) {
	rows, err := db.conn.Query(
		`SELECT email, username, created_at FROM users ORDER BY created_at DESC, email LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var created string
		if err := rows.Scan(&u.Email, &u.Username, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = ParseTime(&created)
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of registered users.
func (db *DB) CountUsers() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// DeleteUser removes a user. Feedback and logs keep the email as written.
// It reports whether a row was removed.
func (db *DB) DeleteUser(email string) (bool, error) {
	res, err := db.conn.Exec(`DELETE FROM users WHERE email = ?`, email)
	if err != nil {
		return false, fmt.Errorf("deleting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
