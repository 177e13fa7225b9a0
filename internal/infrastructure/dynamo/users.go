package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prazos-api/internal/domain"
)

// emailClaimPrefix keys the item that reserves an address in the users table.
// Claims carry no email attribute, so they stay out of email-index.
const emailClaimPrefix = "email#"

// userAPI is the subset of *dynamodb.Client used by UserRepo.
type userAPI interface {
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// UserRepo provides typed DynamoDB operations for the users table.
type UserRepo struct {
	client    userAPI
	tableName string
}

func NewUserRepo(client userAPI, tableName string) *UserRepo {
	return &UserRepo{client: client, tableName: tableName}
}

// Put creates the user together with a claim on its email, in one transaction.
// Returns ErrConflict when the user ID or the email is taken.
func (r *UserRepo) Put(ctx context.Context, u *domain.User) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	cond := aws.String("attribute_not_exists(#pk)")
	names := map[string]string{"#pk": fieldUserID}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(r.tableName),
				Item:                     item,
				ConditionExpression:      cond,
				ExpressionAttributeNames: names,
			}},
			{Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item: map[string]types.AttributeValue{
					fieldUserID:  &types.AttributeValueMemberS{Value: emailClaimPrefix + u.Email},
					fieldOwnerID: &types.AttributeValueMemberS{Value: u.UserID},
				},
				ConditionExpression:      cond,
				ExpressionAttributeNames: names,
			}},
		},
	})
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
				continue
			}
			if i == 1 {
				return fmt.Errorf("email already registered: %w", domain.ErrConflict)
			}
			return fmt.Errorf("user exists: %w", domain.ErrConflict)
		}
	}
	return classify("put user", err)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String("email-index"),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": fieldEmail},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: email}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, classify("query user by email", err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Items[0], &u); err != nil {
		return nil, err
	}
	return &u, nil
}
