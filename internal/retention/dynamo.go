package retention

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoEntry is the wire shape of an expiration entry. The expiration
// timestamp doubles as the table's TTL attribute, so the store sweeps its
// own rows and the stream of removals drives the cascade.
type dynamoEntry struct {
	BaseID      string `dynamodbav:"base_id"`
	StorageArea string `dynamodbav:"storage_area"`
	ExpiresAt   int64  `dynamodbav:"expiration_timestamp"`
}

// DynamoExpirationStore implements ExpirationStore on a DynamoDB table with
// TTL enabled on expiration_timestamp.
type DynamoExpirationStore struct {
	client *dynamodb.Client
	table  string
}

func NewDynamoExpirationStore(client *dynamodb.Client, table string) *DynamoExpirationStore {
	return &DynamoExpirationStore{client: client, table: table}
}

// PutIfAbsent inserts the entry unless one already exists for its base
// identifier. The conditional-check failure on a duplicate is swallowed;
// every other error surfaces to the caller.
func (s *DynamoExpirationStore) PutIfAbsent(ctx context.Context, entry ExpirationEntry) error {
	item, err := attributevalue.MarshalMap(dynamoEntry{
		BaseID:      entry.BaseID,
		StorageArea: entry.StorageArea,
		ExpiresAt:   entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal expiration entry: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(base_id)"),
	})

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("put expiration entry: %w", err)
	}
	return nil
}
