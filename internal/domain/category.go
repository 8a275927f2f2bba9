package domain

// Category groups a user's tasks. Unique per (name, owner).
type Category struct {
	ID     int64
	Name   string
	UserID int64
}
