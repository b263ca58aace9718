package heartbeat

import (
	"context"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/middleware"
	"github.com/vinayprograms/peerkit/packet"
)

// Intercept answers probe requests with an empty fulfill without calling
// next. Any other request goes to next and its result is returned as is.
func Intercept(ctx context.Context, req *packet.Prepare, next endpoint.RequestHandler) (packet.Reply, error) {
	if req.IsHeartbeat() {
		return &packet.Fulfill{}, nil
	}
	return next(ctx, req)
}

// Interceptor is Intercept as a pipeline link, for pipelines that answer
// probes without sending any.
var Interceptor middleware.Middleware = middleware.IncomingFunc(Intercept)
