package dynamodb

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// PutReplica stores a replica record using dual-write: truth item plus a
// list copy under the primary agent's partition.
func (s *Store) PutReplica(ctx context.Context, rep types.ReplicaRecord) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: replicaPK(rep.ReplicaAgentID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: skIdentity},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(rep.PrimaryAgentID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: replicaListSK(rep.ReplicaAgentID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
		},
	})
	return err
}

// GetReplica retrieves a replica record from its truth item.
func (s *Store) GetReplica(ctx context.Context, replicaAgentID string) (*types.ReplicaRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: replicaPK(replicaAgentID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skIdentity},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return nil, err
	}
	var rep types.ReplicaRecord
	if err := json.Unmarshal([]byte(data), &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// ListReplicas returns every replica linked to a primary agent.
func (s *Store) ListReplicas(ctx context.Context, primaryAgentID string) ([]types.ReplicaRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: agentPK(primaryAgentID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixReplica},
		},
	})
	if err != nil {
		return nil, err
	}

	var reps []types.ReplicaRecord
	for _, item := range out.Items {
		data, err := attributeStr(item, "data")
		if err != nil {
			continue
		}
		var rep types.ReplicaRecord
		if err := json.Unmarshal([]byte(data), &rep); err != nil {
			s.logger.Warn("skipping corrupt replica data", "primary", primaryAgentID, "error", err)
			continue
		}
		reps = append(reps, rep)
	}
	return reps, nil
}

// DeleteReplica removes a replica's truth item and its list copy under the
// primary. Used when a replica is promoted to primary.
func (s *Store) DeleteReplica(ctx context.Context, replicaAgentID string) error {
	rep, err := s.GetReplica(ctx, replicaAgentID)
	if err != nil {
		return err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Delete: &ddbtypes.Delete{
					TableName: &s.tableName,
					Key: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: replicaPK(replicaAgentID)},
						"SK": &ddbtypes.AttributeValueMemberS{Value: skIdentity},
					},
				},
			},
			{
				Delete: &ddbtypes.Delete{
					TableName: &s.tableName,
					Key: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: agentPK(rep.PrimaryAgentID)},
						"SK": &ddbtypes.AttributeValueMemberS{Value: replicaListSK(replicaAgentID)},
					},
				},
			},
		},
	})
	return err
}
