package dynamo

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prazos-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUserAPI struct{ mock.Mock }

func (m *mockUserAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

func (m *mockUserAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func testUser() *domain.User {
	return &domain.User{UserID: "u1", Email: "ana@example.com", PasswordHash: "hash"}
}

func TestUserRepo_Put_ClaimsEmailInSameTransaction(t *testing.T) {
	api := &mockUserAPI{}
	var got *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, NewUserRepo(api, "users").Put(context.Background(), testUser()))
	require.Len(t, got.TransactItems, 2)

	user := got.TransactItems[0].Put
	require.NotNil(t, user)
	assert.Equal(t, "attribute_not_exists(#pk)", *user.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "u1"}, user.Item[fieldUserID])

	claim := got.TransactItems[1].Put
	require.NotNil(t, claim)
	assert.Equal(t, "users", *claim.TableName)
	assert.Equal(t, "attribute_not_exists(#pk)", *claim.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "email#ana@example.com"}, claim.Item[fieldUserID])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "u1"}, claim.Item[fieldOwnerID])
	assert.NotContains(t, claim.Item, fieldEmail)
}

func TestUserRepo_Put_TakenEmailIsConflict(t *testing.T) {
	api := &mockUserAPI{}
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	})

	err := NewUserRepo(api, "users").Put(context.Background(), testUser())
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorContains(t, err, "email already registered")
}

func TestUserRepo_Put_TakenIDIsConflict(t *testing.T) {
	api := &mockUserAPI{}
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	})

	err := NewUserRepo(api, "users").Put(context.Background(), testUser())
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorContains(t, err, "user exists")
}

func TestUserRepo_GetByEmail(t *testing.T) {
	item, err := attributevalue.MarshalMap(testUser())
	require.NoError(t, err)
	api := &mockUserAPI{}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return *in.IndexName == "email-index"
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil).Once()
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	repo := NewUserRepo(api, "users")
	u, err := repo.GetByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.UserID)

	_, err = repo.GetByEmail(context.Background(), "bob@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
