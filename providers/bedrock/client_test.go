package bedrock_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/llmrouter/model"
	bedrockadapter "goa.design/llmrouter/providers/bedrock"
)

type mockRuntime struct {
	converseOutput *bedrockruntime.ConverseOutput
	converseErr    error
	captured       *bedrockruntime.ConverseInput
}

func (m *mockRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.captured = params
	if m.converseErr != nil {
		return nil, m.converseErr
	}
	return m.converseOutput, nil
}

func (m *mockRuntime) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, nil
}

func TestClientGenerateExtractsText(t *testing.T) {
	mock := &mockRuntime{
		converseOutput: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hi there"}},
				},
			},
		},
	}
	client, err := bedrockadapter.New(bedrockadapter.Options{Runtime: mock, DefaultModel: "anthropic.claude-3-sonnet"})
	require.NoError(t, err)

	text := "ping"
	resp, err := client.Generate(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: &text}},
	})
	require.NoError(t, err)
	require.Equal(t, "hi there", resp.Text)
	require.NotNil(t, mock.captured)
	require.Equal(t, "anthropic.claude-3-sonnet", *mock.captured.ModelId)
}

func TestClientRequiresRuntime(t *testing.T) {
	_, err := bedrockadapter.New(bedrockadapter.Options{DefaultModel: "anthropic.claude-3-sonnet"})
	require.Error(t, err)
}

func TestClientRequiresDefaultModel(t *testing.T) {
	_, err := bedrockadapter.New(bedrockadapter.Options{Runtime: &mockRuntime{}})
	require.Error(t, err)
}

func TestClientID(t *testing.T) {
	client, err := bedrockadapter.New(bedrockadapter.Options{Runtime: &mockRuntime{}, DefaultModel: "anthropic.claude-3-sonnet"})
	require.NoError(t, err)
	require.Equal(t, "bedrock", client.ID())
}

func TestClientTranslatesQuotaExceededErrorCode(t *testing.T) {
	mock := &mockRuntime{converseErr: &smithy.GenericAPIError{
		Code:    "ServiceQuotaExceededException",
		Message: "exceeded the account quota",
	}}
	client, err := bedrockadapter.New(bedrockadapter.Options{Runtime: mock, DefaultModel: "anthropic.claude-3-sonnet"})
	require.NoError(t, err)

	text := "ping"
	_, err = client.Generate(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: &text}},
	})
	require.Error(t, err)
	re, ok := model.AsRouterError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrModelQuotaExceeded, re.Kind)
}
