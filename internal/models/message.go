package models

import "time"

// OutboxMessage is a pending domain event. A row is written in the same
// transaction as the mutation it describes and flips IsSent false->true
// exactly once, after the broker acknowledged the publish.
type OutboxMessage struct {
	MessageID   string    `json:"message_id" dynamodbav:"MessageID"`
	EventType   string    `json:"event_type" dynamodbav:"EventType"`
	EventData   string    `json:"event_data" dynamodbav:"EventData"`
	IsSent      bool      `json:"is_sent" dynamodbav:"IsSent"`
	TimeCreated time.Time `json:"time_created" dynamodbav:"TimeCreated"`
}

func (m *OutboxMessage) GetPK() string {
	return "OUTBOX#" + m.MessageID
}

func (m *OutboxMessage) GetSK() string {
	return "METADATA"
}

// InboxMessage is a received domain event. Its presence is the deduplication
// guard: a message id already stored must not be reprocessed.
type InboxMessage struct {
	MessageID   string    `json:"message_id" dynamodbav:"MessageID"`
	EventType   string    `json:"event_type" dynamodbav:"EventType"`
	EventData   string    `json:"event_data" dynamodbav:"EventData"`
	IsProcessed bool      `json:"is_processed" dynamodbav:"IsProcessed"`
	TimeCreated time.Time `json:"time_created" dynamodbav:"TimeCreated"`
}

func (m *InboxMessage) GetPK() string {
	return "INBOX#" + m.MessageID
}

func (m *InboxMessage) GetSK() string {
	return "METADATA"
}
