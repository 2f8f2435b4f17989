package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/skyarchive/ingest/internal/events"
	"github.com/skyarchive/ingest/internal/filename"
	"github.com/skyarchive/ingest/internal/fitshdr"
	"github.com/skyarchive/ingest/internal/notify"
	"github.com/skyarchive/ingest/internal/storage"
)

// InfoImagePayload is the fan-out payload for auxiliary imagery.
type InfoImagePayload struct {
	StorageArea string `json:"storage_area"`
	BaseID      string `json:"base_id"`
	Site        string `json:"site"`
	Channel     int    `json:"channel"`
}

// InfoImageService maintains the per-channel records for auxiliary "info"
// imagery (all-sky cameras, focus monitors). Unlike primary observation
// data, these live in a key-value table keyed by {site}#{channel}: each
// channel shows its latest observation only, and a newer base identifier
// displaces the record of the previous one. Rows carry a TTL, so a channel
// that goes quiet cleans itself up.
type InfoImageService struct {
	client    *dynamodb.Client
	table     string
	ttl       time.Duration
	objects   storage.ObjectStore
	publisher notify.Publisher
	now       func() time.Time
}

func NewInfoImageService(client *dynamodb.Client, table string, ttl time.Duration, objects storage.ObjectStore, publisher notify.Publisher) *InfoImageService {
	return &InfoImageService{
		client:    client,
		table:     table,
		ttl:       ttl,
		objects:   objects,
		publisher: publisher,
		now:       time.Now,
	}
}

var channelKeyRe = regexp.MustCompile(`^channel([0-9])$`)

// HandleCreated processes one object-created notification for the
// info-images storage area.
func (s *InfoImageService) HandleCreated(ctx context.Context, ev events.ObjectCreated) error {
	parsed, err := filename.Parse(ev.Filename())
	if err != nil {
		slog.Warn("dropping info image with invalid filename", "key", ev.Key, "error", err)
		return nil
	}

	channel, err := s.resolveChannel(ctx, parsed.Site, parsed.BaseID)
	if err != nil {
		return err
	}
	if channel < 0 {
		slog.Warn("no channel claims this info image, dropping", "base_id", parsed.BaseID, "site", parsed.Site)
		return nil
	}

	pk := fmt.Sprintf("%s#%d", parsed.Site, channel)

	if err := s.dropStaleRecord(ctx, pk, parsed.BaseID); err != nil {
		return err
	}
	if err := s.updateRecord(ctx, pk, ev, parsed); err != nil {
		return err
	}

	if parsed.Extension == "txt" {
		if err := s.attachHeader(ctx, pk, ev); err != nil {
			return err
		}
	}

	if pubErr := s.publisher.Publish(ctx, parsed.Site, InfoImagePayload{
		StorageArea: ev.StorageArea(),
		BaseID:      parsed.BaseID,
		Site:        parsed.Site,
		Channel:     channel,
	}); pubErr != nil {
		slog.Warn("failed to publish info image event", "base_id", parsed.BaseID, "error", pubErr)
	}

	return nil
}

// resolveChannel finds which channel claims baseID by scanning the site's
// metadata record, whose channelN attributes name the base identifier each
// channel is currently showing. Returns -1 when no channel matches.
func (s *InfoImageService) resolveChannel(ctx context.Context, site, baseID string) (int, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: site + "#metadata"},
		},
	})
	if err != nil {
		return -1, fmt.Errorf("load site metadata for %s: %w", site, err)
	}

	for key, val := range out.Item {
		sv, ok := val.(*types.AttributeValueMemberS)
		if !ok || sv.Value != baseID {
			continue
		}
		if m := channelKeyRe.FindStringSubmatch(key); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n, nil
		}
	}
	return -1, nil
}

// dropStaleRecord deletes the channel record when it holds a different base
// identifier, so file flags from the previous observation cannot leak into
// the new one. The conditional-check failure (record already belongs to
// baseID, or does not exist) is the common case and not an error.
func (s *InfoImageService) dropStaleRecord(ctx context.Context, pk, baseID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
		ConditionExpression: aws.String("base_id <> :bf"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bf": &types.AttributeValueMemberS{Value: baseID},
		},
	})

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("drop stale info image record %s: %w", pk, err)
	}
	return nil
}

func (s *InfoImageService) updateRecord(ctx context.Context, pk string, ev events.ObjectCreated, parsed filename.Parsed) error {
	flag := infoImageFlag(parsed.Extension, parsed.ReductionLevel)
	pathAttr := fmt.Sprintf("%s_%s_file_path", parsed.Extension, parsed.ReductionLevel)
	expiresAt := s.now().Add(s.ttl).Unix()

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
		UpdateExpression: aws.String(
			"SET base_id = :bf, expiration_timestamp = :et, data_class = :dc, file_date = :fd, #fp = :fp, #fe = :fe",
		),
		ExpressionAttributeNames: map[string]string{
			"#fp": pathAttr,
			"#fe": flag,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bf": &types.AttributeValueMemberS{Value: parsed.BaseID},
			":et": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
			":dc": &types.AttributeValueMemberS{Value: parsed.DataClass},
			":fd": &types.AttributeValueMemberS{Value: parsed.Date},
			":fp": &types.AttributeValueMemberS{Value: ev.Key},
			":fe": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return fmt.Errorf("update info image record %s: %w", pk, err)
	}
	return nil
}

// attachHeader decodes a text header and stores the full mapping on the
// channel record. The serialized JSON copy is redundant here since the
// mapping is stored natively.
func (s *InfoImageService) attachHeader(ctx context.Context, pk string, ev events.ObjectCreated) error {
	body, err := s.objects.Get(ctx, ev.Key)
	if err != nil {
		return fmt.Errorf("fetch info image header %s: %w", ev.Key, err)
	}

	hdr := fitshdr.DecodeText(body)
	delete(hdr, fitshdr.JSONKey)

	hdrAttr, err := attributevalue.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("marshal info image header: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
		UpdateExpression: aws.String("SET header = :h"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": hdrAttr,
		},
	})
	if err != nil {
		return fmt.Errorf("attach info image header %s: %w", pk, err)
	}
	return nil
}

// infoImageFlag names the existence attribute for an arriving file. Info
// image records track arbitrary reduction levels, so unrecognized
// combinations fall through to a generic name instead of being dropped.
func infoImageFlag(extension, reductionLevel string) string {
	switch {
	case extension == "jpg" && reductionLevel == "10":
		return "jpg_medium_exists"
	case extension == "jpg" && reductionLevel == "11":
		return "jpg_small_exists"
	case extension == "fits":
		return "fits_" + reductionLevel + "_exists"
	default:
		return fmt.Sprintf("other_%s_%s_exists", extension, reductionLevel)
	}
}
