package database

import (
	"database/sql"
	"fmt"
)

// CreateAdmin stores an admin account with an already hashed password.
func (db *DB) CreateAdmin(email, passwordHash string, superAdmin bool) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO admins (email, password_hash, is_super_admin, created_at) VALUES (?, ?, ?, ?)`,
		email, passwordHash, superAdmin, db.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("creating admin: %w", err)
	}
	return res.LastInsertId()
}

// GetAdminByEmail returns an admin account by email.
func (db *DB) GetAdminByEmail(email string) (*Admin, error) {
	var a Admin
	var super int
	var created string
	err := db.conn.QueryRow(
		`SELECT id, email, password_hash, is_super_admin, created_at FROM admins WHERE email = ?`, email,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &super, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.IsSuperAdmin = super != 0
	a.CreatedAt = ParseTime(&created)
	return &a, nil
}
