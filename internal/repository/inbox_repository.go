package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

type InboxRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewInboxRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *InboxRepository {
	return &InboxRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *InboxRepository) Get(ctx context.Context, messageID string) (*models.InboxMessage, error) {
	message := &models.InboxMessage{MessageID: messageID}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: message.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: message.GetSK()},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to get inbox message from DynamoDB")
		return nil, fmt.Errorf("failed to get inbox message: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var dbMessage models.InboxMessage
	if err := attributevalue.UnmarshalMap(result.Item, &dbMessage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inbox message: %w", err)
	}

	return &dbMessage, nil
}

// Create records a message on first sight. The conditional put makes the
// insertion itself the dedup guard: a second writer gets ErrDuplicateMessage.
func (r *InboxRepository) Create(ctx context.Context, message *models.InboxMessage) error {
	item, err := attributevalue.MarshalMap(message)
	if err != nil {
		return fmt.Errorf("failed to marshal inbox message: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: message.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: message.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})

	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return errs.ErrDuplicateMessage
		}
		r.logger.WithError(err).Error("Failed to store inbox message in DynamoDB")
		return fmt.Errorf("failed to store inbox message: %w", err)
	}

	return nil
}

func (r *InboxRepository) MarkProcessed(ctx context.Context, messageID string) error {
	message := &models.InboxMessage{MessageID: messageID}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: message.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: message.GetSK()},
		},
		UpdateExpression: aws.String("SET IsProcessed = :processed"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processed": &types.AttributeValueMemberBOOL{Value: true},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to mark inbox message as processed")
		return fmt.Errorf("failed to mark inbox message as processed: %w", err)
	}

	return nil
}

// GetUnprocessed returns rows whose handler failed. They are dead-lettered
// on the broker side and kept here for manual reprocessing.
func (r *InboxRepository) GetUnprocessed(ctx context.Context) ([]models.InboxMessage, error) {
	result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND IsProcessed = :processed"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: "INBOX#"},
			":processed": &types.AttributeValueMemberBOOL{Value: false},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to scan unprocessed inbox messages in DynamoDB")
		return nil, fmt.Errorf("failed to get unprocessed inbox messages: %w", err)
	}

	var messages []models.InboxMessage
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inbox messages: %w", err)
	}

	return messages, nil
}

func (r *InboxRepository) Delete(ctx context.Context, messageID string) error {
	message := &models.InboxMessage{MessageID: messageID}

	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: message.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: message.GetSK()},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to delete inbox message: %w", err)
	}

	return nil
}
