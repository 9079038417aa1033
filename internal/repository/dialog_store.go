package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"underground-bot/internal/domain"
)

// DialogStore persists conversation records and their append-only dialog
// turns. Records are never deleted; there is no TTL on the audit trail.
type DialogStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDialogStore creates a DialogStore over the shared state table.
func NewDialogStore(api dynamodbAPI, tableName string) (*DialogStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DialogStore{api: api, tableName: tableName}, nil
}

func convPK(conversationID string) string {
	return pkPrefixConv + conversationID
}

// turnSK orders turns chronologically within a conversation. The unique
// suffix keeps two turns written in the same millisecond from colliding
// on one key and overwriting each other.
func turnSK(timestampMillis int64, suffix string) string {
	return skPrefixTurn + time.UnixMilli(timestampMillis).UTC().Format(time.RFC3339Nano) + "#" + suffix
}

// CreateConversation mints a new conversation record for a user.
func (s *DialogStore) CreateConversation(ctx context.Context, userID string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Conversation{}, errors.New("repository: user id must not be empty")
	}
	conv := domain.Conversation{
		ID:        newConversationID(),
		UserID:    userID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
			"SK":             &types.AttributeValueMemberS{Value: skMeta},
			"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
			"userId":         &types.AttributeValueMemberS{Value: conv.UserID},
			"createdAt":      &types.AttributeValueMemberS{Value: conv.CreatedAt},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return conv, nil
}

// AppendTurn writes one dialog turn under its conversation. Fire-and-forget
// append; callers do not depend on read-back ordering.
func (s *DialogStore) AppendTurn(ctx context.Context, conversationID string, turn domain.DialogTurn) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: conversation id must not be empty")
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":              &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK":              &types.AttributeValueMemberS{Value: turnSK(turn.TimestampMillis, newTurnID())},
			"name":            &types.AttributeValueMemberS{Value: turn.Name},
			"message":         &types.AttributeValueMemberS{Value: turn.Message},
			"reply":           &types.AttributeValueMemberS{Value: turn.Reply},
			"timestampMillis": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.TimestampMillis)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// GetTurns returns every logged turn of a conversation in append order.
// Used for audit inspection, not by the turn path.
func (s *DialogStore) GetTurns(ctx context.Context, conversationID string) ([]domain.DialogTurn, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("repository: conversation id must not be empty")
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetTurns query: %w", err)
	}

	turns := make([]domain.DialogTurn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// itemToTurn converts a DynamoDB attribute map back to a DialogTurn.
func itemToTurn(item map[string]types.AttributeValue) (domain.DialogTurn, error) {
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.DialogTurn{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.DialogTurn{}, err
	}
	reply, err := strAttr(item, "reply")
	if err != nil {
		return domain.DialogTurn{}, err
	}
	ts, err := int64Attr(item, "timestampMillis")
	if err != nil {
		return domain.DialogTurn{}, err
	}
	return domain.DialogTurn{
		Name:            name,
		Message:         message,
		Reply:           reply,
		TimestampMillis: ts,
	}, nil
}

var newConversationID = func() string {
	return uuid.NewString()
}

var newTurnID = func() string {
	return uuid.NewString()
}
