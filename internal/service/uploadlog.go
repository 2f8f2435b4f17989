package service

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/skyarchive/ingest/internal/events"
	"github.com/skyarchive/ingest/internal/filename"
)

// uploadLogEntry is one row in the recent-uploads table. The expire
// timestamp is the table's TTL attribute; old entries sweep themselves out.
type uploadLogEntry struct {
	Site       string `dynamodbav:"site"`
	UploadedAt int64  `dynamodbav:"upload_timestamp_s"`
	ExpiresAt  int64  `dynamodbav:"expire_timestamp_s"`
	Filename   string `dynamodbav:"filename"`
	SizeBytes  int64  `dynamodbav:"size_bytes"`
}

// UploadLog keeps a short-lived per-site record of everything that arrives
// in the bucket, for the activity views in the UI. Entries for files that do
// not follow the filename grammar still land, under an unknown site.
type UploadLog struct {
	client *dynamodb.Client
	table  string
	ttlS   int64
}

func NewUploadLog(client *dynamodb.Client, table string, ttlSeconds int64) *UploadLog {
	return &UploadLog{client: client, table: table, ttlS: ttlSeconds}
}

func (l *UploadLog) Record(ctx context.Context, ev events.ObjectCreated) error {
	site := "unknown"
	if parsed, err := filename.Parse(ev.Filename()); err == nil {
		site = parsed.Site
	}

	uploadedAt := ev.EventTime.Unix()
	item, err := attributevalue.MarshalMap(uploadLogEntry{
		Site:       site,
		UploadedAt: uploadedAt,
		ExpiresAt:  uploadedAt + l.ttlS,
		Filename:   ev.Key,
		SizeBytes:  ev.SizeBytes,
	})
	if err != nil {
		return fmt.Errorf("marshal upload log entry: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("record upload %s: %w", ev.Key, err)
	}
	return nil
}
