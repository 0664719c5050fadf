package model

// UserSnapshot is the display data captured from the identity provider.
// Messages keep the copy taken at send time; it is never re-synced.
type UserSnapshot struct {
	ID       string `json:"id" bson:"user_id"`
	Name     string `json:"name" bson:"name"`
	Avatar   string `json:"avatar" bson:"avatar"`
	Verified bool   `json:"verified" bson:"verified"`
}
