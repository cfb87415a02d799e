package context

import "context"

type requestIDKey struct{}
type clientIPKey struct{}
type paymentReferenceKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientIP records the caller address used for audit rows.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// WithPaymentReference tags the request with the payment it addresses.
func WithPaymentReference(ctx context.Context, reference string) context.Context {
	if reference == "" {
		return ctx
	}
	return context.WithValue(ctx, paymentReferenceKey{}, reference)
}

func PaymentReferenceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(paymentReferenceKey{}).(string); ok {
		return v
	}
	return ""
}
