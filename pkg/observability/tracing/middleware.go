package tracing

import (
	"fmt"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/jobpool/pkg/tcp"
)

// SpanName is the name of the span opened for each connection.
const SpanName = "tcp.conn"

// Middleware opens one server span per connection. A handler panic marks the
// span as failed and is re-raised for the pool to isolate.
func Middleware(tracer trace.Tracer) tcp.Middleware {
	return func(next tcp.ConnectionHandler) tcp.ConnectionHandler {
		return func(ctx *tcp.ConnContext) (err error) {
			spanCtx, span := tracer.Start(ctx.Context, SpanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("jobpool.request_id", ctx.RequestID),
					attribute.String("net.peer.addr", addrString(ctx.RemoteAddr)),
					attribute.String("net.host.addr", addrString(ctx.LocalAddr)),
				),
			)
			defer func() {
				if r := recover(); r != nil {
					span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
					span.End()
					panic(r)
				}
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
			}()

			ctx.Context = spanCtx
			return next(ctx)
		}
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
