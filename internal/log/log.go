// Package log provides a global interface to logging functionality
package log

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type (
	ID   struct{}
	Name struct{}
)

const tracerName = "github.com/cri-o/nspin"

func Debugf(ctx context.Context, format string, args ...interface{}) {
	logSpanf(ctx, "DEBUG", format, args...)
	entry(ctx).Debugf(format, args...)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	logSpanf(ctx, "INFO", format, args...)
	entry(ctx).Infof(format, args...)
}

func Warnf(ctx context.Context, format string, args ...interface{}) {
	logSpanf(ctx, "WARN", format, args...)
	entry(ctx).Warnf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	logSpanf(ctx, "ERROR", format, args...)
	entry(ctx).Errorf(format, args...)
}

func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logSpanf(ctx, "FATAL", format, args...)
	entry(ctx).Fatalf(format, args...)
}

func WithFields(ctx context.Context, fields map[string]interface{}) *logrus.Entry {
	return entry(ctx).WithFields(fields)
}

// StartSpan opens a tracing span named after the calling function.
func StartSpan(ctx context.Context) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanName := "unknown"
	if pc, _, _, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			spanName = fn.Name()
		}
	}
	return otel.Tracer(tracerName).Start(ctx, spanName)
}

// AddOperationNameAndID tags ctx with a fresh operation ID and the given
// name. Both are attached to every log entry written with ctx.
func AddOperationNameAndID(ctx context.Context, name string) context.Context {
	return context.WithValue(context.WithValue(ctx, ID{}, uuid.New().String()), Name{}, name)
}

func logSpanf(ctx context.Context, level, format string, args ...interface{}) {
	if ctx == nil {
		return
	}
	id, ok := ctx.Value(ID{}).(string)
	if !ok {
		id = "unknown"
	}
	trace.SpanFromContext(ctx).AddEvent(fmt.Sprintf(format, args...), trace.WithAttributes(
		attribute.String("level", level),
		attribute.String("operation.id", id),
	))
}

func entry(ctx context.Context) *logrus.Entry {
	logger := logrus.StandardLogger()
	if ctx == nil {
		return logrus.NewEntry(logger)
	}

	id, idOk := ctx.Value(ID{}).(string)
	name, nameOk := ctx.Value(Name{}).(string)
	if idOk && nameOk {
		return logger.WithField("id", id).WithField("name", name)
	}

	return logrus.NewEntry(logger)
}
