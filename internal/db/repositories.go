package db

// Repositories provides access to all database repositories
type Repositories struct {
	History *HistoryRepository
}

// NewRepositories creates a new repository collection
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		History: NewHistoryRepository(db),
	}
}
