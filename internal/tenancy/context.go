package tenancy

import "context"

type ctxKey string

const channelAccountKey ctxKey = "intake.channel_account_id"

// WithChannelAccount stores the channel account id in context.
func WithChannelAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, channelAccountKey, accountID)
}

// ChannelAccountFromContext extracts the channel account id if present.
func ChannelAccountFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(channelAccountKey)
	if val == nil {
		return "", false
	}
	accountID, ok := val.(string)
	return accountID, ok && accountID != ""
}
