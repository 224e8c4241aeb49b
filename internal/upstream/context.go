package upstream

import "context"

type contextKey string

const bearerKey contextKey = "upstream-bearer"

// WithBearer attaches the caller's roster API credential to the context.
// It takes precedence over the configured static token.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

// BearerFrom retrieves the credential stored by WithBearer
func BearerFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey).(string)
	return token, ok && token != ""
}
