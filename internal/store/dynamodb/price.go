package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// PutPriceSnapshot stores a single price point in the pool's partition and
// registers the pool in the pool index.
func (s *Store) PutPriceSnapshot(ctx context.Context, snap types.PriceSnapshot) error {
	item, err := s.priceItem(snap)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return err
	}
	return s.indexPool(ctx, snap.PoolID)
}

// PutPriceSnapshots stores a batch of points (interpolated run plus the
// actual point) into the pool's partition.
func (s *Store) PutPriceSnapshots(ctx context.Context, snaps []types.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	// TransactWriteItems accepts at most 100 items; the valve caps batches
	// far below that (10 interpolated + 1 actual).
	items := make([]ddbtypes.TransactWriteItem, 0, len(snaps))
	for _, snap := range snaps {
		item, err := s.priceItem(snap)
		if err != nil {
			return err
		}
		items = append(items, ddbtypes.TransactWriteItem{
			Put: &ddbtypes.Put{TableName: &s.tableName, Item: item},
		})
	}
	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		return err
	}
	return s.indexPool(ctx, snaps[0].PoolID)
}

func (s *Store) priceItem(snap types.PriceSnapshot) (map[string]ddbtypes.AttributeValue, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return map[string]ddbtypes.AttributeValue{
		"PK":   &ddbtypes.AttributeValueMemberS{Value: poolPK(snap.PoolID)},
		"SK":   &ddbtypes.AttributeValueMemberS{Value: priceSK(snap.CapturedAt, snap.SourceID)},
		"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
		"ttl":  &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlEpoch(s.retentionTTL))},
	}, nil
}

func (s *Store) indexPool(ctx context.Context, poolID string) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: pkPoolIndex},
			"SK": &ddbtypes.AttributeValueMemberS{Value: poolIndexSK(poolID)},
		},
	})
	return err
}

// LatestPriceSnapshot returns the most recent persisted point for a pool,
// or nil when the pool has no data.
func (s *Store) LatestPriceSnapshot(ctx context.Context, poolID string) (*types.PriceSnapshot, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: poolPK(poolID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixPrice},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	for _, item := range out.Items {
		snap, err := s.decodePrice(item)
		if err != nil {
			continue
		}
		return snap, nil
	}
	return nil, nil
}

// ListPriceSnapshots returns points captured at or after since, oldest first.
func (s *Store) ListPriceSnapshots(ctx context.Context, poolID string, since time.Time) ([]types.PriceSnapshot, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND SK >= :cutoff"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: poolPK(poolID)},
			":cutoff": &ddbtypes.AttributeValueMemberS{Value: priceCutoffSK(since)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	var snaps []types.PriceSnapshot
	for _, item := range out.Items {
		snap, err := s.decodePrice(item)
		if err != nil {
			s.logger.Warn("skipping corrupt price data", "pool", poolID, "error", err)
			continue
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

// PurgePriceSnapshots deletes points older than olderThan and returns the
// number of rows removed. DynamoDB native TTL also expires rows; the explicit
// purge keeps the retention invariant observable immediately after a write.
func (s *Store) PurgePriceSnapshots(ctx context.Context, poolID string, olderThan time.Time) (int, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :lo AND :hi"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: poolPK(poolID)},
			":lo": &ddbtypes.AttributeValueMemberS{Value: prefixPrice},
			":hi": &ddbtypes.AttributeValueMemberS{Value: priceCutoffSK(olderThan)},
		},
		ProjectionExpression: aws.String("PK, SK"),
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, item := range out.Items {
		sk, err := attributeStr(item, "SK")
		if err != nil {
			continue
		}
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &s.tableName,
			Key: map[string]ddbtypes.AttributeValue{
				"PK": &ddbtypes.AttributeValueMemberS{Value: poolPK(poolID)},
				"SK": &ddbtypes.AttributeValueMemberS{Value: sk},
			},
		}); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// ListPoolIDs returns every pool that has ever stored a price point.
func (s *Store) ListPoolIDs(ctx context.Context) ([]string, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: pkPoolIndex},
		},
	})
	if err != nil {
		return nil, err
	}

	var pools []string
	for _, item := range out.Items {
		sk, err := attributeStr(item, "SK")
		if err != nil {
			continue
		}
		pools = append(pools, sk[len(prefixPool):])
	}
	return pools, nil
}

// PutPermanentRecord stores a durable row with no TTL attribute: it is never
// retention-purged.
func (s *Store) PutPermanentRecord(ctx context.Context, rec types.PermanentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: permanentPK(rec.Table)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: permanentSK(rec.CreatedAt)},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
	})
	return err
}

func (s *Store) decodePrice(item map[string]ddbtypes.AttributeValue) (*types.PriceSnapshot, error) {
	ttlVal, _ := attributeTTL(item)
	if isExpired(ttlVal) {
		return nil, fmt.Errorf("expired row")
	}
	data, err := attributeStr(item, "data")
	if err != nil {
		return nil, err
	}
	var snap types.PriceSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
