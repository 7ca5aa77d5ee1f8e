package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// CollectorSetting is the api_settings row that gates scheduled ingestion.
const CollectorSetting = "naver_news_collector"

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY,
    link TEXT UNIQUE NOT NULL,
    original_link TEXT,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    source TEXT,
    pub_date TEXT,
    category TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_pub_date ON articles(pub_date DESC);
CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category, pub_date DESC);

CREATE TABLE IF NOT EXISTS users (
    email TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    article_id TEXT NOT NULL REFERENCES articles(id),
    user_email TEXT NOT NULL,
    user_comment TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_email TEXT NOT NULL,
    action TEXT NOT NULL,
    metadata TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_logs_email ON user_logs(user_email, created_at DESC);

CREATE TABLE IF NOT EXISTS api_settings (
    api_name TEXT PRIMARY KEY,
    is_active INTEGER NOT NULL DEFAULT 1,
    last_run TEXT,
    run_interval INTEGER NOT NULL DEFAULT 60,
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS admins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    is_super_admin INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "seed collector setting",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(
				`INSERT OR IGNORE INTO api_settings (api_name, is_active, run_interval) VALUES (?, 1, 60)`,
				CollectorSetting,
			)
			return err
		},
	},
	{
		Version:     3,
		Description: "add article content and views",
		Up: func(tx *sql.Tx) error {
			if err := addColumnIfMissing(tx, "articles", "content", "TEXT"); err != nil {
				return err
			}
			if err := addColumnIfMissing(tx, "articles", "content_fetched", "INTEGER NOT NULL DEFAULT 0"); err != nil {
				return err
			}
			return addColumnIfMissing(tx, "articles", "views", "INTEGER NOT NULL DEFAULT 0")
		},
	},
}

// latestVersion returns the highest migration version.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// addColumnIfMissing keeps ALTER TABLE migrations re-runnable.
func addColumnIfMissing(tx *sql.Tx, table, column, decl string) error {
	rows, err := tx.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + decl)
	return err
}
