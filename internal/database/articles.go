package database

import (
	"database/sql"
	"fmt"
	"time"
)

const articleColumns = `id, link, original_link, title, description, source, pub_date, category,
	content, content_fetched, views, created_at, updated_at`

// UpsertArticle stores a classified article keyed by id or link.
//
// An existing row with the same title and description is left untouched,
// except that a NULL category is filled in when a.Category is set; that
// does not bump updated_at. A changed row is updated in place and keeps its stored id, which is
// written back to a.ID. Anything else is inserted.
func (db *DB) UpsertArticle(a *Article) (UpsertResult, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var existingID, title, description string
	var category *string
	err = tx.QueryRow(
		`SELECT id, title, description, category FROM articles WHERE id = ? OR link = ? LIMIT 1`,
		a.ID, a.Link,
	).Scan(&existingID, &title, &description, &category)

	now := db.timestamp()
	var result UpsertResult

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(
			`INSERT INTO articles (id, link, original_link, title, description, source, pub_date, category, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Link, a.OriginalLink, a.Title, a.Description, nullIfEmpty(a.Source),
			FormatTime(a.PubDate), a.Category, now, now,
		)
		if err != nil {
			return "", fmt.Errorf("inserting article: %w", err)
		}
		result = Inserted
	case err != nil:
		return "", fmt.Errorf("looking up article: %w", err)
	case title == a.Title && description == a.Description:
		a.ID = existingID
		if category != nil || a.Category == nil {
			return Unchanged, nil
		}
		if _, err = tx.Exec(`UPDATE articles SET category = ? WHERE id = ?`, a.Category, existingID); err != nil {
			return "", fmt.Errorf("classifying article: %w", err)
		}
		result = Classified
	default:
		_, err = tx.Exec(
			`UPDATE articles SET title = ?, description = ?, original_link = ?, source = COALESCE(?, source),
			pub_date = COALESCE(?, pub_date), category = COALESCE(?, category), updated_at = ?
			WHERE id = ?`,
			a.Title, a.Description, a.OriginalLink, nullIfEmpty(a.Source),
			FormatTime(a.PubDate), a.Category, now, existingID,
		)
		if err != nil {
			return "", fmt.Errorf("updating article: %w", err)
		}
		a.ID = existingID
		result = Updated
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit upsert: %w", err)
	}
	return result, nil
}

// FindArticle returns the article stored under id or link.
func (db *DB) FindArticle(id, link string) (*Article, error) {
	row := db.conn.QueryRow(
		`SELECT `+articleColumns+` FROM articles WHERE id = ? OR link = ? LIMIT 1`, id, link,
	)
	return noRows(scanArticle(row))
}

// GetArticle returns a single article by id.
func (db *DB) GetArticle(id string) (*Article, error) {
	row := db.conn.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	return noRows(scanArticle(row))
}

// ListArticles returns a page of articles, newest publication first.
func (db *DB) ListArticles(f ArticleFilter) ([]Article, error) {
	where, args := f.where()
	query := `SELECT ` + articleColumns + ` FROM articles` + where +
		` ORDER BY pub_date IS NULL, pub_date DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// CountArticles returns how many articles match the filter's category.
func (db *DB) CountArticles(f ArticleFilter) (int, error) {
	where, args := f.where()
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM articles`+where, args...).Scan(&n)
	return n, err
}

func (f ArticleFilter) where() (string, []any) {
	switch {
	case f.Category == "":
		return "", nil
	case f.NullCategory:
		return " WHERE (category = ? OR category IS NULL)", []any{f.Category}
	default:
		return " WHERE category = ?", []any{f.Category}
	}
}

// GetCategoryCounts returns article counts grouped by category, largest first.
func (db *DB) GetCategoryCounts() ([]CategoryCount, error) {
	rows, err := db.conn.Query(
		`SELECT COALESCE(category, ''), COUNT(*) AS n FROM articles
		GROUP BY COALESCE(category, '') ORDER BY n DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetTopArticles returns the most viewed articles.
func (db *DB) GetTopArticles(limit int) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT `+articleColumns+` FROM articles ORDER BY views DESC, pub_date DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetDailyCounts returns per-day publication counts for the given number of
// days ending today (UTC), oldest first. Days without articles count zero.
func (db *DB) GetDailyCounts(days int) ([]DailyCount, error) {
	today := db.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	rows, err := db.conn.Query(
		`SELECT substr(pub_date, 1, 10) AS d, COUNT(*) FROM articles
		WHERE pub_date >= ? GROUP BY d`, start.Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := make(map[string]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		byDay[d] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make([]DailyCount, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i).Format("2006-01-02")
		counts = append(counts, DailyCount{Date: d, Count: byDay[d]})
	}
	return counts, nil
}

// GetArticlesNeedingFetch returns articles whose body has not been fetched,
// restricted to the given ids when any are passed.
func (db *DB) GetArticlesNeedingFetch(ids []string) ([]Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE content_fetched = 0`
	var args []any
	if len(ids) > 0 {
		query += " AND id IN (?" + repeatString(",?", len(ids)-1) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// UpdateArticleContent stores a fetched body and marks the fetch attempted.
// A nil content only marks the attempt.
func (db *DB) UpdateArticleContent(id string, content *string) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET content = COALESCE(?, content), content_fetched = 1 WHERE id = ?",
		content, id,
	)
	return err
}

// IncrementViews bumps the view counter without touching updated_at.
func (db *DB) IncrementViews(id string) error {
	_, err := db.conn.Exec("UPDATE articles SET views = views + 1 WHERE id = ?", id)
	return err
}

// GetStats returns aggregate counts for the status command.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM articles", &s.TotalArticles},
		{"SELECT COUNT(*) FROM articles WHERE category IS NULL", &s.Unclassified},
		{"SELECT COUNT(*) FROM users", &s.TotalUsers},
		{"SELECT COUNT(*) FROM feedback", &s.TotalFeedback},
		{"SELECT COUNT(*) FROM user_logs", &s.TotalLogs},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	var latest *string
	if err := db.conn.QueryRow("SELECT MAX(pub_date) FROM articles").Scan(&latest); err != nil {
		return nil, err
	}
	s.LatestPubDate = ParseTime(latest)

	cats, err := db.GetCategoryCounts()
	if err != nil {
		return nil, err
	}
	s.CategoryCounts = cats
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

func scanArticle(row scanner) (*Article, error) {
	var a Article
	var originalLink, source, pubDate, createdAt, updatedAt *string
	var fetched int
	if err := row.Scan(&a.ID, &a.Link, &originalLink, &a.Title, &a.Description, &source,
		&pubDate, &a.Category, &a.Content, &fetched, &a.Views, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.OriginalLink = deref(originalLink)
	a.Source = deref(source)
	a.PubDate = ParseTime(pubDate)
	a.ContentFetched = fetched != 0
	a.CreatedAt = ParseTime(createdAt)
	a.UpdatedAt = ParseTime(updatedAt)
	return &a, nil
}

// noRows turns sql.ErrNoRows into a nil result.
func noRows[T any](v *T, err error) (*T, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func repeatString(s string, n int) string {
	result := ""
	for i := 0; i < n; i++ {
		result += s
	}
	return result
}
