package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"underground-bot/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	getCalls     int
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	putInputs    []*dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput

	// onGet, when set, overrides getOut/getErr per call.
	onGet func(calls int) (*dynamodb.GetItemOutput, error)
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getCalls++
	f.lastGetInput = in
	if f.onGet != nil {
		return f.onGet(f.getCalls)
	}
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	f.putInputs = append(f.putInputs, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func makeUserItem(t *testing.T, senderID string, convCtx domain.ConversationContext) map[string]types.AttributeValue {
	t.Helper()
	raw, err := json.Marshal(convCtx)
	require.NoError(t, err)
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: userPK(senderID)},
		"SK":       &types.AttributeValueMemberS{Value: skProfile},
		"senderId": &types.AttributeValueMemberS{Value: senderID},
		"context":  &types.AttributeValueMemberS{Value: string(raw)},
	}
}

func mustNewUserStore(t *testing.T, db *fakeDynamo) *UserStore {
	t.Helper()
	s, err := NewUserStore(db, "test-table")
	require.NoError(t, err)
	return s
}

func TestNewUserStore_Validation(t *testing.T) {
	_, err := NewUserStore(nil, "test-table")
	require.Error(t, err)

	_, err = NewUserStore(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestGetOrCreate_ExistingUser(t *testing.T) {
	stored := domain.ConversationContext{"conversationDocId": "conv-1", "action": nil}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeUserItem(t, "sender-1", stored)}}
	s := mustNewUserStore(t, db)

	user, err := s.GetOrCreate(context.Background(), "sender-1")
	require.NoError(t, err)
	require.Equal(t, "sender-1", user.ID)
	require.Equal(t, stored, user.Context)
	require.Nil(t, db.lastPutInput, "existing users must not be rewritten")
}

func TestGetOrCreate_NewUser(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	s := mustNewUserStore(t, db)

	user, err := s.GetOrCreate(context.Background(), "sender-1")
	require.NoError(t, err)
	require.Equal(t, "sender-1", user.ID)
	require.NotNil(t, user.Context)
	require.Empty(t, user.Context)
	require.NotNil(t, db.lastPutInput)
	require.NotNil(t, db.lastPutInput.ConditionExpression)
	require.Contains(t, *db.lastPutInput.ConditionExpression, "attribute_not_exists")
}

func TestGetOrCreate_EmptySender(t *testing.T) {
	s := mustNewUserStore(t, &fakeDynamo{})
	_, err := s.GetOrCreate(context.Background(), "  ")
	require.Error(t, err)
}

func TestGetOrCreate_LosingFirstContactRaceReReads(t *testing.T) {
	winner := makeUserItem(t, "sender-1", domain.ConversationContext{"conversationDocId": "conv-9"})
	db := &fakeDynamo{
		putErr: &types.ConditionalCheckFailedException{},
		onGet: func(calls int) (*dynamodb.GetItemOutput, error) {
			if calls == 1 {
				return &dynamodb.GetItemOutput{}, nil
			}
			return &dynamodb.GetItemOutput{Item: winner}, nil
		},
	}
	s := mustNewUserStore(t, db)

	user, err := s.GetOrCreate(context.Background(), "sender-1")
	require.NoError(t, err)
	require.Equal(t, "conv-9", user.Context.ConversationDocID())
	require.Equal(t, 2, db.getCalls)
}

func TestGetOrCreate_PutError(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}, putErr: errors.New("boom")}
	s := mustNewUserStore(t, db)

	_, err := s.GetOrCreate(context.Background(), "sender-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetOrCreate")
}

func TestUpdateContext_RoundTrip(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewUserStore(t, db)

	convCtx := domain.ConversationContext{
		"action":            nil,
		"conversationDocId": "conv-1",
		"system":            map[string]any{"dialog_turn_counter": float64(3)},
	}
	updated, err := s.UpdateContext(context.Background(), domain.User{ID: "sender-1"}, convCtx)
	require.NoError(t, err)
	require.Equal(t, convCtx, updated.Context)

	// reloading the written item must yield a deep-equal context
	reloaded, err := itemToUser(db.lastPutInput.Item)
	require.NoError(t, err)
	require.Equal(t, "sender-1", reloaded.ID)
	require.Equal(t, convCtx, reloaded.Context)
	_, actionPresent := reloaded.Context["action"]
	require.True(t, actionPresent, "null action must survive the round trip as an explicit null")
}

func TestUpdateContext_PutError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	s := mustNewUserStore(t, db)

	_, err := s.UpdateContext(context.Background(), domain.User{ID: "sender-1"}, domain.ConversationContext{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "UpdateContext")
}

func TestGetUser_MalformedContext(t *testing.T) {
	item := makeUserItem(t, "sender-1", domain.ConversationContext{})
	item["context"] = &types.AttributeValueMemberS{Value: "not-json"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	s := mustNewUserStore(t, db)

	_, err := s.GetOrCreate(context.Background(), "sender-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal user context")
}
