package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/intake-engine/pkg/logging"
)

type fakeBedrock struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeBedrock) Converse(_ context.Context, _ *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := ""
	if i < len(f.responses) {
		text = f.responses[i]
	}
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: text},
				},
			},
		},
	}, nil
}

func TestClassifyParsesJSON(t *testing.T) {
	client := &fakeBedrock{responses: []string{
		"Here you go:\n```json\n{\"sector\": \"billing\", \"intent\": \"invoice_dispute\", \"sentiment\": \"negative\", \"priority\": 60}\n```",
	}}
	c := NewBedrockClassifier(client, "model-id", time.Second, 0, logging.Default())

	cl, err := c.Classify(context.Background(), "my invoice is wrong")
	require.NoError(t, err)
	assert.Equal(t, "billing", cl.Sector)
	assert.Equal(t, "invoice_dispute", cl.Intent)
	assert.Equal(t, "negative", cl.Sentiment)
	assert.Equal(t, 60, cl.Priority)
}

func TestClassifyGarbageFallsBackToDefault(t *testing.T) {
	client := &fakeBedrock{responses: []string{"I cannot classify that."}}
	c := NewBedrockClassifier(client, "model-id", time.Second, 0, logging.Default())

	cl, err := c.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "general", cl.Sector)
	assert.Equal(t, "neutral", cl.Sentiment)
}

func TestClassifyRetriesThenSucceeds(t *testing.T) {
	client := &fakeBedrock{
		errs:      []error{errors.New("throttled"), nil},
		responses: []string{"", `{"sector":"support","intent":"bug","sentiment":"neutral","priority":10}`},
	}
	c := NewBedrockClassifier(client, "model-id", time.Second, 2, logging.Default())

	cl, err := c.Classify(context.Background(), "it is broken")
	require.NoError(t, err)
	assert.Equal(t, "support", cl.Sector)
	assert.Equal(t, 2, client.calls)
}

func TestClassifyExhaustsRetries(t *testing.T) {
	boom := errors.New("throttled")
	client := &fakeBedrock{errs: []error{boom, boom, boom}}
	c := NewBedrockClassifier(client, "model-id", time.Second, 2, logging.Default())

	_, err := c.Classify(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, client.calls)
}

func TestClassifyPermanentErrorSkipsRetries(t *testing.T) {
	reject := &smithy.GenericAPIError{Code: "ValidationException", Message: "input rejected"}
	client := &fakeBedrock{errs: []error{reject, reject, reject}}
	c := NewBedrockClassifier(client, "model-id", time.Second, 2, logging.Default())

	_, err := c.Classify(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrClassifyPermanent)
	assert.Equal(t, 1, client.calls, "a rejected request must not be retried")
}

func TestClassifyBackoffHonorsContext(t *testing.T) {
	boom := errors.New("throttled")
	client := &fakeBedrock{errs: []error{boom, boom, boom}}
	c := NewBedrockClassifier(client, "model-id", time.Second, 2, logging.Default())
	c.backoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := c.Classify(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "cancellation must interrupt the backoff sleep")
	assert.Equal(t, 1, client.calls)
}

func TestClassifyNilClient(t *testing.T) {
	c := NewBedrockClassifier(nil, "", 0, 0, nil)
	cl, err := c.Classify(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "general", cl.Sector)
}
