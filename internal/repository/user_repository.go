package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

type UserRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{UserID: userID}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil // User not found
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND Username = :username"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: "USER#"},
			":username":  &types.AttributeValueMemberS{Value: username},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to scan users in DynamoDB")
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Items[0], &dbUser); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND Email = :email"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: "USER#"},
			":email":     &types.AttributeValueMemberS{Value: email},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to scan users in DynamoDB")
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Items[0], &dbUser); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	item, err := marshalUserItem(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})

	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return errs.ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// CreateWithEvent writes the user and its outbox row in one transaction, so
// the event record can never exist without the mutation or vice versa.
func (r *UserRepository) CreateWithEvent(ctx context.Context, user *models.User, message *models.OutboxMessage) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	userItem, err := marshalUserItem(user)
	if err != nil {
		return err
	}

	messageItem, err := marshalOutboxItem(message)
	if err != nil {
		return err
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                userItem,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(r.tableName),
					Item:      messageItem,
				},
			},
		},
	})

	if err != nil {
		if transactionConditionFailed(err) {
			return errs.ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user with outbox event in DynamoDB")
		return fmt.Errorf("failed to create user with event: %w", err)
	}

	return nil
}

// DeleteWithEvent removes the user and writes the outbox row in one
// transaction.
func (r *UserRepository) DeleteWithEvent(ctx context.Context, user *models.User, message *models.OutboxMessage) error {
	messageItem, err := marshalOutboxItem(message)
	if err != nil {
		return err
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName: aws.String(r.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
						"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
					},
					ConditionExpression: aws.String("attribute_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(r.tableName),
					Item:      messageItem,
				},
			},
		},
	})

	if err != nil {
		if transactionConditionFailed(err) {
			return errs.ErrUserNotFound
		}
		r.logger.WithError(err).Error("Failed to delete user with outbox event in DynamoDB")
		return fmt.Errorf("failed to delete user with event: %w", err)
	}

	return nil
}

func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	user := &models.User{UserID: userID}

	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to delete user from DynamoDB")
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return nil
}

func marshalUserItem(user *models.User) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}
	return item, nil
}

// transactionConditionFailed reports whether a TransactWriteItems call was
// cancelled because a condition expression did not hold.
func transactionConditionFailed(err error) bool {
	var cancelled *types.TransactionCanceledException
	if !errors.As(err, &cancelled) {
		return false
	}
	for _, reason := range cancelled.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
