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

// PutSignal persists an interruption signal in the agent's partition.
func (s *Store) PutSignal(ctx context.Context, sig types.InterruptionSignal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(sig.AgentID)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: signalSK(string(sig.Type), sig.DetectedAt)},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
			"ttl":  &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlEpoch(s.retentionTTL))},
		},
	})
	return err
}

// LatestSignal returns the most recent persisted signal of the given type for
// an agent, or nil when none exists.
func (s *Store) LatestSignal(ctx context.Context, agentID string, signalType types.SignalType) (*types.InterruptionSignal, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: agentPK(agentID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: signalTypePrefix(string(signalType))},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	for _, item := range out.Items {
		sig, err := s.decodeSignal(item)
		if err != nil {
			continue
		}
		return sig, nil
	}
	return nil, nil
}

// ListSignals returns an agent's signals detected at or after since, oldest
// first.
func (s *Store) ListSignals(ctx context.Context, agentID string, since time.Time) ([]types.InterruptionSignal, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: agentPK(agentID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixSignal},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	var sigs []types.InterruptionSignal
	for _, item := range out.Items {
		sig, err := s.decodeSignal(item)
		if err != nil {
			s.logger.Warn("skipping corrupt signal data", "agent", agentID, "error", err)
			continue
		}
		if sig.DetectedAt.Before(since) {
			continue
		}
		sigs = append(sigs, *sig)
	}
	return sigs, nil
}

func (s *Store) decodeSignal(item map[string]ddbtypes.AttributeValue) (*types.InterruptionSignal, error) {
	ttlVal, _ := attributeTTL(item)
	if isExpired(ttlVal) {
		return nil, fmt.Errorf("expired row")
	}
	data, err := attributeStr(item, "data")
	if err != nil {
		return nil, err
	}
	var sig types.InterruptionSignal
	if err := json.Unmarshal([]byte(data), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}
