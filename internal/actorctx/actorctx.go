package actorctx

import "context"

type ctxKey string

const (
	keyActor     ctxKey = "actor"
	keyRequestID ctxKey = "request_id"
	keyClientIP  ctxKey = "client_ip"
)

// Actor is the authenticated caller as seen by services below the HTTP layer.
type Actor struct {
	UserID string
	Email  string
	Role   string
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, keyActor, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(keyActor).(Actor)

	return a, ok && a.UserID != ""
}

func UserIDFrom(ctx context.Context) (string, bool) {
	a, ok := ActorFrom(ctx)

	return a.UserID, ok
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRequestID, id)
}

func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, keyClientIP, ip)
}

func ClientIPFrom(ctx context.Context) string {
	v, _ := ctx.Value(keyClientIP).(string)
	return v
}
