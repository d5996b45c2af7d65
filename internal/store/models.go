package store

import "time"

const DefaultImageURL = "/static/images/default-pic.svg"

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	ImageURL     string
	Bio          string
	CreatedAt    time.Time
}

// Message is a post owned by exactly one user. Username is filled in on
// reads that join the author.
type Message struct {
	ID        int64
	Text      string
	UserID    int64
	Username  string
	Timestamp time.Time
}

// OwnedBy reports whether userID is the author of the message.
func (m Message) OwnedBy(userID int64) bool {
	return m.UserID == userID
}
