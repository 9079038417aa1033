package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"underground-bot/internal/domain"
)

func mustNewDialogStore(t *testing.T, db *fakeDynamo) *DialogStore {
	t.Helper()
	s, err := NewDialogStore(db, "test-table")
	require.NoError(t, err)
	return s
}

func withConversationID(t *testing.T, id string) {
	t.Helper()
	orig := newConversationID
	newConversationID = func() string { return id }
	t.Cleanup(func() { newConversationID = orig })
}

func withTurnID(t *testing.T, id string) {
	t.Helper()
	orig := newTurnID
	newTurnID = func() string { return id }
	t.Cleanup(func() { newTurnID = orig })
}

func TestNewDialogStore_Validation(t *testing.T) {
	_, err := NewDialogStore(nil, "test-table")
	require.Error(t, err)

	_, err = NewDialogStore(&fakeDynamo{}, "")
	require.Error(t, err)
}

func TestCreateConversation_HappyPath(t *testing.T) {
	withConversationID(t, "conv-fixed")
	db := &fakeDynamo{}
	s := mustNewDialogStore(t, db)

	conv, err := s.CreateConversation(context.Background(), "sender-1")
	require.NoError(t, err)
	require.Equal(t, "conv-fixed", conv.ID)
	require.Equal(t, "sender-1", conv.UserID)
	require.NotEmpty(t, conv.CreatedAt)

	item := db.lastPutInput.Item
	pk, err := strAttr(item, "PK")
	require.NoError(t, err)
	require.Equal(t, "CONV#conv-fixed", pk)
	userID, err := strAttr(item, "userId")
	require.NoError(t, err)
	require.Equal(t, "sender-1", userID)
	createdAt, err := strAttr(item, "createdAt")
	require.NoError(t, err)
	require.Equal(t, conv.CreatedAt, createdAt)
	require.NotNil(t, db.lastPutInput.ConditionExpression)
}

func TestCreateConversation_EmptyUser(t *testing.T) {
	s := mustNewDialogStore(t, &fakeDynamo{})
	_, err := s.CreateConversation(context.Background(), " ")
	require.Error(t, err)
}

func TestCreateConversation_PutError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	s := mustNewDialogStore(t, db)

	_, err := s.CreateConversation(context.Background(), "sender-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateConversation")
}

func TestAppendTurn_HappyPath(t *testing.T) {
	withTurnID(t, "turn-fixed")
	db := &fakeDynamo{}
	s := mustNewDialogStore(t, db)

	ts := time.Date(2024, time.May, 10, 15, 30, 0, 0, time.UTC).UnixMilli()
	err := s.AppendTurn(context.Background(), "conv-1", domain.DialogTurn{
		Name:            "findWeather",
		Message:         "weather in London tomorrow",
		Reply:           "The forecast for tomorrow says :\nRain.",
		TimestampMillis: ts,
	})
	require.NoError(t, err)

	item := db.lastPutInput.Item
	turn, err := itemToTurn(item)
	require.NoError(t, err)
	require.Equal(t, "findWeather", turn.Name)
	require.Equal(t, ts, turn.TimestampMillis)

	sk, err := strAttr(item, "SK")
	require.NoError(t, err)
	require.Equal(t, turnSK(ts, "turn-fixed"), sk)
	require.NotNil(t, db.lastPutInput.ConditionExpression)
	require.Contains(t, *db.lastPutInput.ConditionExpression, "attribute_not_exists(SK)")
}

func TestAppendTurn_SameMillisecondTurnsGetDistinctKeys(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDialogStore(t, db)

	ts := time.Date(2024, time.May, 10, 15, 30, 0, 0, time.UTC).UnixMilli()
	first := domain.DialogTurn{Name: "smallTalk", Message: "first", Reply: "ok", TimestampMillis: ts}
	second := domain.DialogTurn{Name: "smallTalk", Message: "second", Reply: "ok", TimestampMillis: ts}

	require.NoError(t, s.AppendTurn(context.Background(), "conv-1", first))
	require.NoError(t, s.AppendTurn(context.Background(), "conv-1", second))

	require.Len(t, db.putInputs, 2)
	sk1, err := strAttr(db.putInputs[0].Item, "SK")
	require.NoError(t, err)
	sk2, err := strAttr(db.putInputs[1].Item, "SK")
	require.NoError(t, err)
	require.NotEqual(t, sk1, sk2, "turns in the same millisecond must not share a key, or one overwrites the other")
}

func TestAppendTurn_EmptyConversationID(t *testing.T) {
	s := mustNewDialogStore(t, &fakeDynamo{})
	err := s.AppendTurn(context.Background(), "", domain.DialogTurn{})
	require.Error(t, err)
}

func TestTurnSK_OrdersChronologically(t *testing.T) {
	earlier := turnSK(time.Date(2024, time.May, 10, 10, 0, 0, 0, time.UTC).UnixMilli(), "a")
	later := turnSK(time.Date(2024, time.May, 10, 10, 0, 1, 0, time.UTC).UnixMilli(), "a")
	require.Less(t, earlier, later)
}

func TestGetTurns_HappyPath(t *testing.T) {
	items := []map[string]types.AttributeValue{
		{
			"PK":              &types.AttributeValueMemberS{Value: "CONV#conv-1"},
			"SK":              &types.AttributeValueMemberS{Value: turnSK(1000, "t1")},
			"name":            &types.AttributeValueMemberS{Value: "start"},
			"message":         &types.AttributeValueMemberS{Value: "hi"},
			"reply":           &types.AttributeValueMemberS{Value: "Hello!"},
			"timestampMillis": &types.AttributeValueMemberN{Value: "1000"},
		},
		{
			"PK":              &types.AttributeValueMemberS{Value: "CONV#conv-1"},
			"SK":              &types.AttributeValueMemberS{Value: turnSK(2000, "t2")},
			"name":            &types.AttributeValueMemberS{Value: "findWeather"},
			"message":         &types.AttributeValueMemberS{Value: "weather?"},
			"reply":           &types.AttributeValueMemberS{Value: "Sunny."},
			"timestampMillis": &types.AttributeValueMemberN{Value: "2000"},
		},
	}
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: items}}
	s := mustNewDialogStore(t, db)

	turns, err := s.GetTurns(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "start", turns[0].Name)
	require.Equal(t, int64(2000), turns[1].TimestampMillis)
	require.NotNil(t, db.lastQueryIn)
	require.Contains(t, *db.lastQueryIn.KeyConditionExpression, "begins_with")
}

func TestGetTurns_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	s := mustNewDialogStore(t, db)

	_, err := s.GetTurns(context.Background(), "conv-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetTurns")
}

func TestGetTurns_MalformedItem(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"PK": &types.AttributeValueMemberS{Value: "CONV#conv-1"}},
	}}}
	s := mustNewDialogStore(t, db)

	_, err := s.GetTurns(context.Background(), "conv-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing attribute")
}
