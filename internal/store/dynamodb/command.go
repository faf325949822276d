package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// PutCommand stores a new command using dual-write: truth item plus a
// mailbox item in the target agent's partition for pending delivery.
func (s *Store) PutCommand(ctx context.Context, cmd types.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	ttl := fmt.Sprintf("%d", ttlEpoch(s.retentionTTL))

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":     &ddbtypes.AttributeValueMemberS{Value: commandPK(cmd.ID)},
						"SK":     &ddbtypes.AttributeValueMemberS{Value: skCommand},
						"data":   &ddbtypes.AttributeValueMemberS{Value: string(data)},
						"status": &ddbtypes.AttributeValueMemberS{Value: string(cmd.Status)},
						"ttl":    &ddbtypes.AttributeValueMemberN{Value: ttl},
					},
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(cmd.AgentID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: mailboxSK(cmd.Priority, cmd.CreatedAt, cmd.ID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
						"ttl":  &ddbtypes.AttributeValueMemberN{Value: ttl},
					},
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(cmd.AgentID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: historySK(cmd.CreatedAt, cmd.ID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
						"ttl":  &ddbtypes.AttributeValueMemberN{Value: ttl},
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

// GetCommand retrieves a command from its truth item (strongly consistent).
func (s *Store) GetCommand(ctx context.Context, id string) (*types.Command, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: commandPK(id)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skCommand},
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
	var cmd types.Command
	if err := json.Unmarshal([]byte(data), &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// UpdateCommandStatus transitions a command to a new status if and only if
// its current status is one of expect. Exactly one of two racing writers
// succeeds; the loser gets (false, nil).
func (s *Store) UpdateCommandStatus(ctx context.Context, id string, expect []types.CommandStatus, to types.CommandStatus, update types.CommandUpdate) (bool, error) {
	cmd, err := s.GetCommand(ctx, id)
	if err != nil {
		return false, err
	}

	next := *cmd
	next.Status = to
	if update.ExecutionResult != nil {
		next.ExecutionResult = update.ExecutionResult
	}
	if update.ErrorMessage != "" {
		next.ErrorMessage = update.ErrorMessage
	}
	next.RetryRecommended = update.RetryRecommended
	if update.ExecutedAt != nil {
		next.ExecutedAt = update.ExecutedAt
	}
	if update.CompletedAt != nil {
		next.CompletedAt = update.CompletedAt
	}

	data, err := json.Marshal(next)
	if err != nil {
		return false, err
	}

	// Conditional update on the truth item: the stored status attribute must
	// still be one of the expected values.
	placeholders := make([]string, len(expect))
	exprValues := map[string]ddbtypes.AttributeValue{
		":data":   &ddbtypes.AttributeValueMemberS{Value: string(data)},
		":status": &ddbtypes.AttributeValueMemberS{Value: string(to)},
	}
	for i, st := range expect {
		ph := fmt.Sprintf(":e%d", i)
		placeholders[i] = ph
		exprValues[ph] = &ddbtypes.AttributeValueMemberS{Value: string(st)}
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: commandPK(id)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skCommand},
		},
		UpdateExpression:    aws.String("SET #data = :data, #status = :status"),
		ConditionExpression: aws.String("#status IN (" + strings.Join(placeholders, ", ") + ")"),
		ExpressionAttributeNames: map[string]string{
			"#data":   "data",
			"#status": "status",
		},
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, err
	}

	// The command left the pending mailbox; remove the delivery copy.
	if cmd.Status == types.CommandPending {
		_, _ = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &s.tableName,
			Key: map[string]ddbtypes.AttributeValue{
				"PK": &ddbtypes.AttributeValueMemberS{Value: agentPK(cmd.AgentID)},
				"SK": &ddbtypes.AttributeValueMemberS{Value: mailboxSK(cmd.Priority, cmd.CreatedAt, cmd.ID)},
			},
		})
	}

	// Best-effort refresh of the history copy.
	_, _ = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: agentPK(cmd.AgentID)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: historySK(cmd.CreatedAt, cmd.ID)},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
			"ttl":  &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlEpoch(s.retentionTTL))},
		},
	})

	return true, nil
}

// ListPendingCommands returns an agent's pending mailbox ordered by priority
// DESC, then creation time ASC (the mailbox sort key encodes this order).
func (s *Store) ListPendingCommands(ctx context.Context, agentID string, limit int) ([]types.Command, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: agentPK(agentID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixMailbox},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, err
	}

	var cmds []types.Command
	for _, item := range out.Items {
		cmd, err := s.decodeCommand(item)
		if err != nil {
			s.logger.Warn("skipping corrupt command data", "agent", agentID, "error", err)
			continue
		}
		cmds = append(cmds, *cmd)
	}
	return cmds, nil
}

// ListCommands returns the command audit trail, newest first.
func (s *Store) ListCommands(ctx context.Context, filter types.CommandFilter) ([]types.Command, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: agentPK(filter.AgentID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixHistory},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, err
	}

	var cmds []types.Command
	for _, item := range out.Items {
		cmd, err := s.decodeCommand(item)
		if err != nil {
			s.logger.Warn("skipping corrupt command data", "agent", filter.AgentID, "error", err)
			continue
		}
		if filter.ClientID != "" && cmd.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && cmd.Status != filter.Status {
			continue
		}
		if filter.ExcludePending && cmd.Status == types.CommandPending {
			continue
		}
		cmds = append(cmds, *cmd)
		if len(cmds) >= limit {
			break
		}
	}

	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].CreatedAt.After(cmds[j].CreatedAt)
	})
	return cmds, nil
}

func (s *Store) decodeCommand(item map[string]ddbtypes.AttributeValue) (*types.Command, error) {
	ttlVal, _ := attributeTTL(item)
	if isExpired(ttlVal) {
		return nil, fmt.Errorf("expired row")
	}
	data, err := attributeStr(item, "data")
	if err != nil {
		return nil, err
	}
	var cmd types.Command
	if err := json.Unmarshal([]byte(data), &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
