package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prazos-api/internal/domain"
)

// poolAPI is the subset of *dynamodb.Client used by PoolRepo.
type poolAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// PoolRepo stores one NumberPool item per tenant in the number_pools table.
// PK: tenant_id. Each category is a top-level list attribute.
type PoolRepo struct {
	client    poolAPI
	tableName string
}

func NewPoolRepo(client poolAPI, tableName string) *PoolRepo {
	return &PoolRepo{client: client, tableName: tableName}
}

// Get reads the pool with a strongly consistent read.
func (r *PoolRepo) Get(ctx context.Context, tenantID string) (*domain.NumberPool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldTenantID, tenantID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("get pool", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("pool not found: %w", domain.ErrNotFound)
	}
	var p domain.NumberPool
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pool: %w", err)
	}
	return &p, nil
}

// PutIfAbsent creates the pool item. A concurrent creator winning the race is not an error.
func (r *PoolRepo) PutIfAbsent(ctx context.Context, p *domain.NumberPool) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal pool: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": fieldTenantID},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	return classify("create pool", err)
}

// SetField overwrites one category attribute and bumps the version in a single
// UpdateItem. Other categories are not touched. Returns the version after the write.
// Unless expect is domain.AnyVersion the item must still be at version expect.
func (r *PoolRepo) SetField(ctx context.Context, tenantID string, c domain.Category, nums []int, expect int64) (int64, error) {
	if nums == nil {
		nums = []int{}
	}
	ue, err := buildUpdateExpr(map[string]interface{}{
		string(c):      nums,
		fieldUpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return 0, err
	}
	ue.Names["#ver"] = fieldVersion
	ue.Values[":one"] = &types.AttributeValueMemberN{Value: "1"}

	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldTenantID, tenantID),
		UpdateExpression:          aws.String(ue.Expr + " ADD #ver :one"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	}
	if expect != domain.AnyVersion {
		in.ConditionExpression = aws.String("#ver = :base")
		in.ExpressionAttributeValues[":base"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expect, 10)}
	}

	out, err := r.client.UpdateItem(ctx, in)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return 0, fmt.Errorf("pool %s moved past version %d: %w", tenantID, expect, domain.ErrConflict)
	}
	if err != nil {
		return 0, classify("set "+string(c), err)
	}
	var after struct {
		Version int64 `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &after); err != nil {
		return 0, fmt.Errorf("unmarshal version: %w", err)
	}
	return after.Version, nil
}
