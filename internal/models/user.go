package models

// User is the minimal identity of a person who may hold VPN access.
// Users are owned by the wider school system; this service only reads them.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
