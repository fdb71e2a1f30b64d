package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/johnwmail/quickbin/models"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements SnippetStore using DynamoDB.
//
// The table's TTL attribute must be "ttl" (epoch seconds). DynamoDB's own
// sweeper is the main reclaimer here; ScanExpired is a filtered table scan
// and therefore linear in table size.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	timeout   time.Duration
}

// NewDynamoStore creates a new DynamoDB storage backend
func NewDynamoStore(ctx context.Context, tableName, region string, timeout time.Duration) (*DynamoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}

	return newDynamoStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, timeout), nil
}

func newDynamoStoreWithClient(client dynamoAPI, tableName string, timeout time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		timeout:   timeout,
	}
}

// Put writes the item only if no item with the same id exists.
func (d *DynamoStore) Put(ctx context.Context, snippet *models.Snippet) error {
	ctx, cancel := opContext(ctx, d.timeout)
	defer cancel()

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                snippetToItem(snippet),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return ErrDuplicateID
	}
	return unavailable("put", err)
}

// Get retrieves a snippet by its ID
func (d *DynamoStore) Get(ctx context.Context, id string, now time.Time) (*models.Snippet, error) {
	ctx, cancel := opContext(ctx, d.timeout)
	defer cancel()

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get", err)
	}

	if result.Item == nil {
		return nil, nil // Not found
	}

	snippet, err := itemToSnippet(result.Item)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if snippet.IsExpired(now) {
		return nil, nil
	}
	return snippet, nil
}

// Delete removes a snippet from DynamoDB
func (d *DynamoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, d.timeout)
	defer cancel()

	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	return unavailable("delete", err)
}

// ScanExpired pages through a filtered scan until limit ids are found.
func (d *DynamoStore) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, cancel := opContext(ctx, d.timeout)
	defer cancel()

	input := &dynamodb.ScanInput{
		TableName:                aws.String(d.tableName),
		FilterExpression:         aws.String("expires_at <= :now"),
		ProjectionExpression:     aws.String("id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
		},
	}

	var ids []string
	for {
		out, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, unavailable("scan expired", err)
		}
		for _, item := range out.Items {
			if id, ok := item["id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, id.Value)
				if limit > 0 && len(ids) >= limit {
					return ids, nil
				}
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Count sums a COUNT scan across all pages.
func (d *DynamoStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := opContext(ctx, d.timeout)
	defer cancel()

	input := &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
		Select:    types.SelectCount,
	}
	var total int64
	for {
		out, err := d.client.Scan(ctx, input)
		if err != nil {
			return 0, unavailable("count", err)
		}
		total += int64(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Close is a no-op for DynamoDB
func (d *DynamoStore) Close() error {
	return nil
}

// snippetToItem encodes timestamps as unix nanoseconds; ttl is whole
// seconds rounded up, as DynamoDB TTL requires.
func snippetToItem(s *models.Snippet) map[string]types.AttributeValue {
	ttl := s.ExpiresAt.Unix()
	if s.ExpiresAt.Nanosecond() > 0 {
		ttl++
	}
	return map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: s.ID},
		"title":      &types.AttributeValueMemberS{Value: s.Title},
		"content":    &types.AttributeValueMemberS{Value: s.Content},
		"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.CreatedAt.UnixNano(), 10)},
		"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ExpiresAt.UnixNano(), 10)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToSnippet converts a DynamoDB item to a Snippet model
func itemToSnippet(item map[string]types.AttributeValue) (*models.Snippet, error) {
	snippet := &models.Snippet{}

	if id, ok := item["id"].(*types.AttributeValueMemberS); ok {
		snippet.ID = id.Value
	}
	if title, ok := item["title"].(*types.AttributeValueMemberS); ok {
		snippet.Title = title.Value
	}
	if content, ok := item["content"].(*types.AttributeValueMemberS); ok {
		snippet.Content = content.Value
	}

	createdAt, err := nanosAttr(item, "created_at")
	if err != nil {
		return nil, err
	}
	snippet.CreatedAt = createdAt

	expiresAt, err := nanosAttr(item, "expires_at")
	if err != nil {
		return nil, err
	}
	snippet.ExpiresAt = expiresAt

	return snippet, nil
}

func nanosAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, fmt.Errorf("attribute %q missing", name)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("attribute %q: %w", name, err)
	}
	return time.Unix(0, n).UTC(), nil
}
