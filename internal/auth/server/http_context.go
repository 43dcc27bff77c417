package server

import "context"

type ctxKey int

const ctxKeyAuthInfo ctxKey = iota

// WithAuthInfo attaches a verified token's AuthInfo to the request context.
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	if info == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyAuthInfo, info)
}

// GetAuthInfo reads the AuthInfo attached by the bearer middleware. Resource
// handlers use the bound session to construct upstream API credentials.
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	v := ctx.Value(ctxKeyAuthInfo)
	if v == nil {
		return nil, false
	}
	info, ok := v.(*AuthInfo)
	return info, ok && info != nil
}
