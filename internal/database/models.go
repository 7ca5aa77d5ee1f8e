package database

import "time"

// Article is a stored news article.
type Article struct {
	ID             string    `json:"id"`
	Link           string    `json:"link"`
	OriginalLink   string    `json:"original_link"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Source         string    `json:"source,omitempty"`
	PubDate        time.Time `json:"pub_date"`
	Category       *string   `json:"category"`
	Content        *string   `json:"content,omitempty"`
	ContentFetched bool      `json:"-"`
	Views          int       `json:"views"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UpsertResult describes what UpsertArticle did with a record.
type UpsertResult string

const (
	Inserted  UpsertResult = "inserted"
	Updated   UpsertResult = "updated"
	Unchanged UpsertResult = "unchanged"

	// Classified means an unchanged row only gained its first category.
	Classified UpsertResult = "classified"
)

// ArticleFilter selects a page of articles. An empty Category matches all.
type ArticleFilter struct {
	Category     string
	NullCategory bool // also match rows whose category is unset
	Limit        int
	Offset       int
}

// CategoryCount is the number of stored articles in one category. Name is
// empty for articles that were never classified.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DailyCount is the number of articles published on one UTC day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// User is a registered reader.
type User struct {
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a reader comment on an article.
type Feedback struct {
	ID          int64     `json:"id"`
	ArticleID   string    `json:"article_id"`
	UserEmail   string    `json:"user_email"`
	UserComment string    `json:"user_comment"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserLog is one entry of the reader activity log.
type UserLog struct {
	ID        int64          `json:"id"`
	UserEmail string         `json:"user_email"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// APISetting controls a named external integration.
type APISetting struct {
	APIName     string     `json:"api_name"`
	IsActive    bool       `json:"is_active"`
	LastRun     *time.Time `json:"last_run"`
	RunInterval int        `json:"run_interval"` // minutes
	UpdatedAt   *time.Time `json:"updated_at"`
}

// Admin is an account allowed to use the administrative API.
type Admin struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsSuperAdmin bool      `json:"is_super_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats holds aggregate database statistics.
type Stats struct {
	TotalArticles  int
	Unclassified   int
	TotalUsers     int
	TotalFeedback  int
	TotalLogs      int
	LatestPubDate  time.Time
	CategoryCounts []CategoryCount
}
