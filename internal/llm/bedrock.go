package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Bedrock is a Completer backed by the Bedrock Converse API.
type Bedrock struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

var _ Completer = (*Bedrock)(nil)

// NewBedrock creates a Bedrock backend from static or default AWS
// credentials. The SDK retryer is limited to a single attempt.
func NewBedrock(ctx context.Context, cfg Config) (*Bedrock, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.Timeout > 0 {
		loadOpts = append(loadOpts, config.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, NewProviderError(ProviderBedrock, cfg.Model, err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		o.RetryMaxAttempts = 1
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			o.BaseEndpoint = aws.String(base)
		}
	})
	return &Bedrock{
		client:       client,
		defaultModel: pickModel(cfg.Model, "anthropic.claude-3-sonnet-20240229-v1:0"),
		region:       region,
	}, nil
}

// Name returns the provider name.
func (p *Bedrock) Name() string {
	return ProviderBedrock
}

// Complete calls Converse with one user turn.
func (p *Bedrock) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := pickModel(req.Model, p.defaultModel)

	out, err := p.client.Converse(ctx, buildConverseInput(model, req))
	if err != nil {
		return nil, wrapBedrockError(err, model)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, malformed(ProviderBedrock, model, "response has no message output")
	}
	resp := &Response{
		Text:     converseText(msg.Value.Content),
		Model:    model,
		Provider: ProviderBedrock,
	}
	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return resp, nil
}

func buildConverseInput(model string, req *Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	return input
}

func converseText(blocks []types.ContentBlock) string {
	var text strings.Builder
	for _, block := range blocks {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	return text.String()
}

func wrapBedrockError(err error, model string) error {
	pe := NewProviderError(ProviderBedrock, model, err)
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		pe = pe.WithStatus(respErr.HTTPStatusCode())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe = pe.WithCode(apiErr.ErrorCode())
		if msg := apiErr.ErrorMessage(); msg != "" {
			pe.Message = msg
		}
	}
	return pe
}
