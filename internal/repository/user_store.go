package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"underground-bot/internal/domain"
)

// UserStore persists one profile record per sender with the latest
// conversation context, serialized as a JSON attribute.
type UserStore struct {
	api       dynamodbAPI
	tableName string
}

// NewUserStore creates a UserStore over the shared state table.
func NewUserStore(api dynamodbAPI, tableName string) (*UserStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &UserStore{api: api, tableName: tableName}, nil
}

func userPK(senderID string) string {
	return pkPrefixUser + senderID
}

// GetOrCreate returns the user for a sender, creating an empty profile on
// first contact. A concurrent first-contact race is resolved by re-reading
// the record the other writer won with.
func (s *UserStore) GetOrCreate(ctx context.Context, senderID string) (domain.User, error) {
	if strings.TrimSpace(senderID) == "" {
		return domain.User{}, errors.New("repository: sender id must not be empty")
	}

	user, found, err := s.getUser(ctx, senderID)
	if err != nil {
		return domain.User{}, err
	}
	if found {
		return user, nil
	}

	user = domain.User{ID: senderID, Context: domain.ConversationContext{}}
	item, err := userItem(user)
	if err != nil {
		return domain.User{}, err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			existing, found, getErr := s.getUser(ctx, senderID)
			if getErr != nil {
				return domain.User{}, getErr
			}
			if !found {
				return domain.User{}, fmt.Errorf("repository: GetOrCreate: user vanished after conditional failure: %s", senderID)
			}
			return existing, nil
		}
		return domain.User{}, fmt.Errorf("repository: GetOrCreate put: %w", err)
	}
	return user, nil
}

// UpdateContext overwrites the stored conversation context. Last write
// wins; concurrent turns for one sender are not serialized here.
func (s *UserStore) UpdateContext(ctx context.Context, user domain.User, convCtx domain.ConversationContext) (domain.User, error) {
	updated := user
	updated.Context = convCtx

	item, err := userItem(updated)
	if err != nil {
		return domain.User{}, err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: UpdateContext: %w", err)
	}
	return updated, nil
}

func (s *UserStore) getUser(ctx context.Context, senderID string) (domain.User, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(senderID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: get user: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, false, nil
	}
	user, err := itemToUser(out.Item)
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

func userItem(user domain.User) (map[string]types.AttributeValue, error) {
	convCtx := user.Context
	if convCtx == nil {
		convCtx = domain.ConversationContext{}
	}
	raw, err := json.Marshal(convCtx)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal user context: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: userPK(user.ID)},
		"SK":       &types.AttributeValueMemberS{Value: skProfile},
		"senderId": &types.AttributeValueMemberS{Value: user.ID},
		"context":  &types.AttributeValueMemberS{Value: string(raw)},
	}, nil
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	senderID, err := strAttr(item, "senderId")
	if err != nil {
		return domain.User{}, err
	}
	rawCtx, err := strAttr(item, "context")
	if err != nil {
		return domain.User{}, err
	}
	var convCtx domain.ConversationContext
	if err := json.Unmarshal([]byte(rawCtx), &convCtx); err != nil {
		return domain.User{}, fmt.Errorf("repository: unmarshal user context: %w", err)
	}
	if convCtx == nil {
		convCtx = domain.ConversationContext{}
	}
	return domain.User{ID: senderID, Context: convCtx}, nil
}
