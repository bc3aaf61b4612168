package types

import "context"

type requestMetaKey struct{}

// RequestMeta collects the identifiers of one HTTP request. It travels by
// pointer so middleware wrapping a handler sees the reference the handler
// resolved.
type RequestMeta struct {
	requestID string
	reference string
}

// WithRequestMeta returns ctx carrying a RequestMeta, reusing the one an
// outer middleware already attached.
func WithRequestMeta(ctx context.Context) (context.Context, *RequestMeta) {
	if meta := RequestMetaFrom(ctx); meta != nil {
		return ctx, meta
	}
	meta := &RequestMeta{}
	return context.WithValue(ctx, requestMetaKey{}, meta), meta
}

// RequestMetaFrom returns the request's meta, or nil outside a request.
func RequestMetaFrom(ctx context.Context) *RequestMeta {
	if ctx == nil {
		return nil
	}
	meta, _ := ctx.Value(requestMetaKey{}).(*RequestMeta)
	return meta
}

// SetReference records the payment reference the request is about. It is a
// no-op when ctx carries no meta.
func SetReference(ctx context.Context, reference string) {
	if meta := RequestMetaFrom(ctx); meta != nil {
		meta.reference = reference
	}
}

// SetRequestID records the id the request is served under.
func (m *RequestMeta) SetRequestID(id string) {
	if m != nil {
		m.requestID = id
	}
}

func (m *RequestMeta) RequestID() string {
	if m == nil {
		return ""
	}
	return m.requestID
}

func (m *RequestMeta) Reference() string {
	if m == nil {
		return ""
	}
	return m.reference
}
