package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// AppendEvent writes an audit event to the agent's event partition.
func (s *Store) AppendEvent(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(event.AgentID)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: eventSK(event.Timestamp)},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
			"ttl":  &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlEpoch(s.retentionTTL))},
		},
	})
	return err
}

// ListEvents returns recent events for an agent in chronological order.
func (s *Store) ListEvents(ctx context.Context, agentID string, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	// Query newest-first, then reverse for chronological order.
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: agentPK(agentID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixEvent},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, err
	}

	events := make([]types.Event, 0, len(out.Items))
	for i := len(out.Items) - 1; i >= 0; i-- {
		item := out.Items[i]
		ttlVal, _ := attributeTTL(item)
		if isExpired(ttlVal) {
			continue
		}
		data, err := attributeStr(item, "data")
		if err != nil {
			s.logger.Warn("skipping corrupt event data", "error", err)
			continue
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("skipping corrupt event data", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
