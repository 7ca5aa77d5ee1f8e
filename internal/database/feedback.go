package database

import "fmt"

// InsertFeedback appends a reader comment and returns its id.
func (db *DB) InsertFeedback(articleID, email, comment string) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO feedback (article_id, user_email, user_comment, created_at) VALUES (?, ?, ?, ?)`,
		articleID, email, comment, db.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting feedback: %w", err)
	}
	return res.LastInsertId()
}

// GetFeedbackForArticle returns all comments on an article, oldest first.
func (db *DB) GetFeedbackForArticle(articleID string) ([]Feedback, error) {
	rows, err := db.conn.Query(
		`SELECT id, article_id, user_email, user_comment, created_at
		FROM feedback WHERE article_id = ? ORDER BY id`, articleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Feedback
	for rows.Next() {
		var f Feedback
		var created string
		if err := rows.Scan(&f.ID, &f.ArticleID, &f.UserEmail, &f.UserComment, &created); err != nil {
			return nil, err
		}
		f.CreatedAt = ParseTime(&created)
		items = append(items, f)
	}
	return items, rows.Err()
}
