package postcache

import "context"

type adminKey struct{}

// WithAdmin returns a context that marks the caller as an authenticated admin (or not).
func WithAdmin(ctx context.Context, admin bool) context.Context {
	return context.WithValue(ctx, adminKey{}, admin)
}

// IsAdminContext reports whether WithAdmin marked ctx as belonging to an admin.
func IsAdminContext(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey{}).(bool)
	return admin
}
