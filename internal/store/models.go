package store

import "time"

// CacheEntry is one rendered issue table keyed by project and status list.
type CacheEntry struct {
	Project   string
	Status    string
	Payload   string
	UpdatedAt time.Time
}

// Account mirrors a user of the host site.
type Account struct {
	ID          int64
	Login       string
	DisplayName string
	Email       string
	UpdatedAt   time.Time
}

type HistoryEntry struct {
	ID        string
	UserID    int64
	Kind      string
	Detail    string
	CreatedAt time.Time
}

const HistorySupportRequest = "SUPPORT_REQUEST"
