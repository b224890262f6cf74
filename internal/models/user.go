package models

import (
	"time"
)

type User struct {
	UserID       string    `json:"user_id" dynamodbav:"UserID"`
	Username     string    `json:"username" dynamodbav:"Username"`
	Email        string    `json:"email" dynamodbav:"Email"`
	PasswordHash string    `json:"-" dynamodbav:"PasswordHash"`
	Role         string    `json:"role" dynamodbav:"Role"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"UpdatedAt"`
}

func (u *User) GetPK() string {
	return "USER#" + u.UserID
}

func (u *User) GetSK() string {
	return "METADATA"
}
