package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/relayhq/intake-engine/pkg/logging"
)

// ErrClassifyPermanent marks classification failures that no amount of
// retrying will fix (rejected request, missing model, revoked credentials).
// The pipeline sends these straight to the fallback queue instead of parking
// the conversation for backoff retries.
var ErrClassifyPermanent = errors.New("triage: permanent classification failure")

// Classification is the verdict the classifier produces for a conversation's
// opening message.
type Classification struct {
	Sector    string `json:"sector"`
	Intent    string `json:"intent"`
	Sentiment string `json:"sentiment"`
	Priority  int    `json:"priority"`
}

// BedrockConverseAPI is the subset of the Bedrock client used for
// classification.
type BedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Classifier labels an opening message with sector, intent and sentiment.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

// BedrockClassifier classifies via Claude Haiku on Bedrock. A nil client
// degrades to the default classification so intake keeps flowing without AWS
// credentials (local development).
type BedrockClassifier struct {
	client  BedrockConverseAPI
	modelID string
	timeout time.Duration
	retries int
	backoff time.Duration
	logger  *logging.Logger
}

// NewBedrockClassifier creates a classifier. modelID should be a Haiku model
// ARN/ID.
func NewBedrockClassifier(client BedrockConverseAPI, modelID string, timeout time.Duration, retries int, logger *logging.Logger) *BedrockClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BedrockClassifier{client: client, modelID: modelID, timeout: timeout, retries: retries, backoff: 50 * time.Millisecond, logger: logger}
}

// Classify returns a Classification for the message text. Transient Bedrock
// failures are retried; the error is returned only after the last attempt so
// the pipeline can park the conversation for a later retry.
func (c *BedrockClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	if c.client == nil {
		return defaultClassification(), nil
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: classificationSystemPrompt},
		},
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: classificationPrompt(text)},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(256),
			Temperature: aws.Float32(0.0),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.Converse(callCtx, input)
		cancel()
		if err != nil {
			if isPermanentBedrockError(err) {
				c.logger.Error("bedrock rejected classification request", "error", err)
				return nil, fmt.Errorf("triage: bedrock converse: %w: %w", ErrClassifyPermanent, err)
			}
			lastErr = err
			c.logger.Warn("bedrock converse failed", "attempt", attempt+1, "error", err)
			if attempt < c.retries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.backoff << attempt):
				}
			}
			continue
		}
		return parseClassificationJSON(extractResponseText(resp)), nil
	}
	return nil, fmt.Errorf("triage: bedrock converse: %w", lastErr)
}

// isPermanentBedrockError reports whether the Bedrock failure would repeat on
// every attempt. Throttling and server-side errors stay retryable.
func isPermanentBedrockError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ValidationException", "AccessDeniedException", "ResourceNotFoundException", "ServiceQuotaExceededException":
		return true
	}
	return false
}

func extractResponseText(resp *bedrockruntime.ConverseOutput) string {
	if resp == nil || resp.Output == nil {
		return ""
	}
	output, ok := resp.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok || len(output.Value.Content) == 0 {
		return ""
	}
	textBlock, ok := output.Value.Content[0].(*brtypes.ContentBlockMemberText)
	if !ok {
		return ""
	}
	return textBlock.Value
}

func parseClassificationJSON(text string) *Classification {
	// Find JSON in response (might be wrapped in markdown code blocks)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return defaultClassification()
	}

	var cl Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &cl); err != nil {
		return defaultClassification()
	}
	if cl.Sector == "" {
		cl.Sector = "general"
	}
	if cl.Sentiment == "" {
		cl.Sentiment = "neutral"
	}
	if cl.Priority < 0 {
		cl.Priority = 0
	}
	return &cl
}

func defaultClassification() *Classification {
	return &Classification{Sector: "general", Intent: "unknown", Sentiment: "neutral", Priority: 0}
}

const classificationSystemPrompt = `You are an intake classifier for a customer-service messaging platform. Analyze the customer's opening message and return a JSON object with classification labels. Be precise and conservative.`

func classificationPrompt(messageText string) string {
	return fmt.Sprintf(`Classify this customer message. Return ONLY a JSON object with these fields:

{
  "sector": "sales|support|billing|retention|general",
  "intent": "short label for what the customer wants",
  "sentiment": "positive|neutral|negative|hostile",
  "priority": 0-100
}

Rules:
- sector: the team best suited to handle the message
- priority: urgency of a human reply, 0 routine to 100 critical (churn threat, outage, legal)
- sentiment: overall tone of the customer

Message:
%s`, messageText)
}
