package domain

// User is an authenticated caller. Name is for attribution only.
type User struct {
	ID   string
	Name string
}
