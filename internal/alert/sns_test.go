package alert

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshift-io/gridshift/pkg/types"
)

type mockSNS struct {
	published []*sns.PublishInput
}

func (m *mockSNS) Publish(_ context.Context, input *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.published = append(m.published, input)
	return &sns.PublishOutput{}, nil
}

func TestSNSSink_Send(t *testing.T) {
	mock := &mockSNS{}
	sink, err := NewSNSSink("arn:aws:sns:us-east-1:123456789:alerts", WithSNSClient(mock))
	require.NoError(t, err)

	alert := types.Alert{
		Level:     types.AlertLevelCritical,
		AgentID:   "agent-1",
		Message:   "spot interruption imminent",
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, sink.Send(alert))

	require.Len(t, mock.published, 1)
	pub := mock.published[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789:alerts", *pub.TopicArn)
	assert.Equal(t, "[critical] agent-1", *pub.Subject)

	var decoded types.Alert
	require.NoError(t, json.Unmarshal([]byte(*pub.Message), &decoded))
	assert.Equal(t, types.AlertLevelCritical, decoded.Level)
	assert.Equal(t, "spot interruption imminent", decoded.Message)
}

func TestSNSSink_EmptyTopicARN(t *testing.T) {
	_, err := NewSNSSink("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "topic ARN required")
}

func TestSNSSink_SubjectTruncation(t *testing.T) {
	mock := &mockSNS{}
	sink, err := NewSNSSink("arn:aws:sns:us-east-1:123456789:alerts", WithSNSClient(mock))
	require.NoError(t, err)

	alert := types.Alert{
		Level:   types.AlertLevelWarning,
		AgentID: strings.Repeat("x", 150),
		Message: "long agent id",
	}
	require.NoError(t, sink.Send(alert))

	require.Len(t, mock.published, 1)
	assert.Len(t, *mock.published[0].Subject, 100)
}
