package models

// User is an identified connection as shown in rosters.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
