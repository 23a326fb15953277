package audit

import "context"

// ResultSink consumes the finished result stream of a run (reports, UI).
type ResultSink interface {
	Consume(ctx context.Context, report *RunReport) error
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(ctx context.Context, report *RunReport) error

func (f SinkFunc) Consume(ctx context.Context, report *RunReport) error {
	return f(ctx, report)
}
