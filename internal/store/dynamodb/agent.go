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

// CreateAgent inserts a new agent identity. The transaction writes the truth
// item, a uniqueness claim on (clientID, logicalAgentID), and a fleet index
// copy; the claim's condition makes double-registration fail with
// store.ErrConflict.
func (s *Store) CreateAgent(ctx context.Context, rec types.AgentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":      &ddbtypes.AttributeValueMemberS{Value: logicalPK(rec.ClientID, rec.LogicalAgentID)},
						"SK":      &ddbtypes.AttributeValueMemberS{Value: skIdentity},
						"agentId": &ddbtypes.AttributeValueMemberS{Value: rec.AgentID},
					},
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(rec.AgentID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: skIdentity},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: pkAgentIndex},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: agentIndexSK(rec.AgentID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

// GetAgent retrieves an agent's truth item (strongly consistent).
func (s *Store) GetAgent(ctx context.Context, agentID string) (*types.AgentRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: agentPK(agentID)},
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
	var rec types.AgentRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindAgentByLogicalID resolves the uniqueness claim to the agent row, or
// store.ErrNotFound when the logical identity is unclaimed.
func (s *Store) FindAgentByLogicalID(ctx context.Context, clientID, logicalAgentID string) (*types.AgentRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: logicalPK(clientID, logicalAgentID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skIdentity},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	agentID, err := attributeStr(out.Item, "agentId")
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, agentID)
}

// UpdateAgent rewrites the agent truth item and its fleet index copy. The
// (clientID, logicalAgentID) claim is untouched: migration never mints a
// second row for the same logical identity.
func (s *Store) UpdateAgent(ctx context.Context, rec types.AgentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(rec.AgentID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: skIdentity},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: pkAgentIndex},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: agentIndexSK(rec.AgentID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
		},
	})
	return err
}

// ListAgents returns the fleet, optionally filtered to enabled agents.
func (s *Store) ListAgents(ctx context.Context, onlyEnabled bool) ([]types.AgentRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: pkAgentIndex},
		},
	})
	if err != nil {
		return nil, err
	}

	var agents []types.AgentRecord
	for _, item := range out.Items {
		data, err := attributeStr(item, "data")
		if err != nil {
			continue
		}
		var rec types.AgentRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping corrupt agent data", "error", err)
			continue
		}
		if onlyEnabled && !rec.Enabled {
			continue
		}
		agents = append(agents, rec)
	}
	return agents, nil
}

// DeleteAgent removes an agent's truth item, index copy, and logical claim.
// Used when a promoted replica's temporary identity is retired.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	rec, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Delete: &ddbtypes.Delete{
					TableName: &s.tableName,
					Key: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: agentPK(agentID)},
						"SK": &ddbtypes.AttributeValueMemberS{Value: skIdentity},
					},
				},
			},
			{
				Delete: &ddbtypes.Delete{
					TableName: &s.tableName,
					Key: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: pkAgentIndex},
						"SK": &ddbtypes.AttributeValueMemberS{Value: agentIndexSK(agentID)},
					},
				},
			},
			{
				Delete: &ddbtypes.Delete{
					TableName: &s.tableName,
					Key: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: logicalPK(rec.ClientID, rec.LogicalAgentID)},
						"SK": &ddbtypes.AttributeValueMemberS{Value: skIdentity},
					},
				},
			},
		},
	})
	return err
}

// PutInstance stores or rewrites one physical incarnation of an agent.
func (s *Store) PutInstance(ctx context.Context, inst types.InstanceRecord) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(inst.AgentID)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: instanceSK(inst.InstanceID)},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
	})
	return err
}

// ListInstances returns every recorded incarnation of an agent.
func (s *Store) ListInstances(ctx context.Context, agentID string) ([]types.InstanceRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: agentPK(agentID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixInstance},
		},
	})
	if err != nil {
		return nil, err
	}

	var instances []types.InstanceRecord
	for _, item := range out.Items {
		data, err := attributeStr(item, "data")
		if err != nil {
			continue
		}
		var inst types.InstanceRecord
		if err := json.Unmarshal([]byte(data), &inst); err != nil {
			s.logger.Warn("skipping corrupt instance data", "agent", agentID, "error", err)
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}
