package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/models"
)

type OutboxRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewOutboxRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *OutboxRepository {
	return &OutboxRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *OutboxRepository) Create(ctx context.Context, message *models.OutboxMessage) error {
	item, err := marshalOutboxItem(message)
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to store outbox message in DynamoDB")
		return fmt.Errorf("failed to store outbox message: %w", err)
	}

	return nil
}

// GetUnsent returns all pending outbox rows ordered by creation time
// ascending, oldest first.
func (r *OutboxRepository) GetUnsent(ctx context.Context) ([]models.OutboxMessage, error) {
	result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND IsSent = :sent"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: "OUTBOX#"},
			":sent":      &types.AttributeValueMemberBOOL{Value: false},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to scan unsent outbox messages in DynamoDB")
		return nil, fmt.Errorf("failed to get unsent outbox messages: %w", err)
	}

	var messages []models.OutboxMessage
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox messages: %w", err)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].TimeCreated.Before(messages[j].TimeCreated)
	})

	return messages, nil
}

// MarkSent flips the sent flag. Rows transition false->true exactly once and
// are never reset.
func (r *OutboxRepository) MarkSent(ctx context.Context, messageID string) error {
	message := &models.OutboxMessage{MessageID: messageID}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: message.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: message.GetSK()},
		},
		UpdateExpression: aws.String("SET IsSent = :sent"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sent": &types.AttributeValueMemberBOOL{Value: true},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to mark outbox message as sent")
		return fmt.Errorf("failed to mark outbox message as sent: %w", err)
	}

	return nil
}

// Delete removes a row. Only sent rows should be reclaimed; the publisher
// itself never deletes, it only flips the flag.
func (r *OutboxRepository) Delete(ctx context.Context, messageID string) error {
	message := &models.OutboxMessage{MessageID: messageID}

	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: message.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: message.GetSK()},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to delete outbox message: %w", err)
	}

	return nil
}

func marshalOutboxItem(message *models.OutboxMessage) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox message: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: message.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: message.GetSK()}
	return item, nil
}
