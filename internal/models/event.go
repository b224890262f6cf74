package models

import "time"

// Event type tags carried on the wire. Consumers ack and drop tags they do
// not recognize so newer producers stay compatible.
const (
	EventUserCreated = "User_Created"
	EventUserDeleted = "User_Deleted"
)

// PublishEvent is the envelope exchanged over the message bus.
type PublishEvent struct {
	MessageID   string    `json:"messageId"`
	EventType   string    `json:"eventType"`
	EventData   string    `json:"eventData"`
	TimeCreated time.Time `json:"timeCreated"`
}

// UserCreatedEvent is the payload of a User_Created event. It carries the
// password hash so the authentication service can verify logins against its
// local copy without a synchronous call back to the user service.
type UserCreatedEvent struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
}

// UserDeletedEvent is the payload of a User_Deleted event.
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
}
