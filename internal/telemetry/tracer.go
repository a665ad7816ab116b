// Package telemetry provides the structured operation-tracer shape used
// throughout this module's service layer: <component>.WithContext(ctx).
// Operation("name").WithParam(...).Build(), then tracer.Step/Success/Error.Log().
//
// This mirrors a pattern seen at dozens of call sites across the service
// layer this module grew out of
// (log.NewDebugLogger(name).WithContext(ctx).Operation(...)), but the type
// backing it was not present in the retrieved snapshot. It is rebuilt here
// in the same idiom rather than left unimplemented.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tracer is a named logger bound to a component, producing Operation traces.
type Tracer struct {
	logger *zap.Logger
	name   string
}

func NewTracer(name string) *Tracer {
	return &Tracer{logger: zap.L().Named(name), name: name}
}

// WithContext binds a context so future fields can carry a request id.
func (t *Tracer) WithContext(ctx context.Context) *ContextTracer {
	return &ContextTracer{tracer: t, ctx: ctx}
}

type ContextTracer struct {
	tracer *Tracer
	ctx    context.Context
}

// Operation starts an OperationBuilder for a named operation.
func (c *ContextTracer) Operation(op string) *OperationBuilder {
	return &OperationBuilder{
		tracer: c.tracer,
		ctx:    c.ctx,
		op:     op,
		fields: make([]zap.Field, 0, 4),
	}
}

type OperationBuilder struct {
	tracer *Tracer
	ctx    context.Context
	op     string
	fields []zap.Field
}

func (b *OperationBuilder) WithParam(key string, value any) *OperationBuilder {
	b.fields = append(b.fields, zap.Any(key, value))
	return b
}

func (b *OperationBuilder) WithUUID(key string, id uuid.UUID) *OperationBuilder {
	b.fields = append(b.fields, zap.String(key, id.String()))
	return b
}

// Build finalizes the operation and logs its start.
func (b *OperationBuilder) Build() *Operation {
	op := &Operation{
		logger: b.tracer.logger,
		op:     b.op,
		base:   b.fields,
	}
	op.logger.Debug("operation started", append([]zap.Field{zap.String("operation", b.op)}, b.fields...)...)
	return op
}

// Operation is a live tracer for one call. Step/Success/Error each return a
// Result that accumulates fields before Log() emits the line.
type Operation struct {
	logger *zap.Logger
	op     string
	base   []zap.Field
}

type Result struct {
	op     *Operation
	level  string
	label  string
	err    error
	fields []zap.Field
}

func (o *Operation) Step(label string) *Result {
	return &Result{op: o, level: "step", label: label}
}

func (o *Operation) Success() *Result {
	return &Result{op: o, level: "success"}
}

func (o *Operation) Error(err error) *Result {
	return &Result{op: o, level: "error", err: err}
}

func (r *Result) WithParam(key string, value any) *Result {
	r.fields = append(r.fields, zap.Any(key, value))
	return r
}

func (r *Result) WithUUID(key string, id uuid.UUID) *Result {
	r.fields = append(r.fields, zap.String(key, id.String()))
	return r
}

func (r *Result) WithUUIDPtr(key string, id *uuid.UUID) *Result {
	if id == nil {
		return r.WithParam(key, nil)
	}
	return r.WithUUID(key, *id)
}

func (r *Result) WithString(key, value string) *Result {
	return r.WithParam(key, value)
}

func (r *Result) WithInt(key string, value int) *Result {
	return r.WithParam(key, value)
}

func (r *Result) WithBool(key string, value bool) *Result {
	return r.WithParam(key, value)
}

func (r *Result) Log() {
	fields := append([]zap.Field{zap.String("operation", r.op.op)}, r.op.base...)
	fields = append(fields, r.fields...)
	if r.label != "" {
		fields = append(fields, zap.String("step", r.label))
	}
	switch r.level {
	case "error":
		fields = append(fields, zap.Error(r.err))
		r.op.logger.Error("operation failed", fields...)
	case "success":
		r.op.logger.Info("operation completed", fields...)
	default:
		r.op.logger.Debug("operation step", fields...)
	}
}
