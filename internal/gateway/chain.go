package gateway

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"
)

const instrumentationName = "github.com/alovak/cardflow-terminal/internal/gateway"

var tracer = otel.Tracer(instrumentationName)

// Chain is the priority-ordered list of gateways. Authorize walks it
// sequentially and stops at the first Approved or Declined outcome.
type Chain struct {
	gateways []Gateway
	timeout  time.Duration
	logger   *slog.Logger

	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewChain(logger *slog.Logger, timeout time.Duration, gateways ...Gateway) *Chain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	meter := otel.Meter(instrumentationName)
	outcomes, _ := meter.Int64Counter("gateway.authorizations",
		metric.WithDescription("Authorization attempts by gateway and outcome"))
	latency, _ := meter.Float64Histogram("gateway.authorization.duration",
		metric.WithDescription("Authorization attempt latency"), metric.WithUnit("s"))

	return &Chain{
		gateways: gateways,
		timeout:  timeout,
		logger:   logger,
		outcomes: outcomes,
		latency:  latency,
	}
}

func (c *Chain) Len() int {
	return len(c.gateways)
}

// Result is the final outcome of the chain together with every attempt.
// When no gateway produced a final outcome, Outcome is the last error.
type Result struct {
	Outcome  Outcome
	Attempts []Attempt
}

// Exhausted reports whether every gateway failed with an error.
func (r Result) Exhausted() bool {
	return !r.Outcome.Status.Final()
}

// Authorize tries each gateway in order. TransientError moves on to the next
// gateway. PermanentError also moves on, but later gateways of the same kind
// are skipped since they would reject the request the same way. before is
// called with the zero-based position right before a gateway is invoked.
func (c *Chain) Authorize(ctx context.Context, req Request, before func(i int, g Gateway)) Result {
	var res Result
	if len(c.gateways) == 0 {
		res.Outcome = Permanent("no gateways configured")
		return res
	}

	rejectedKinds := map[string]string{}
	for i, g := range c.gateways {
		if reason, ok := rejectedKinds[g.Kind()]; ok {
			res.Attempts = append(res.Attempts, Attempt{
				Position: i,
				Gateway:  g.Name(),
				Kind:     g.Kind(),
				Outcome:  Permanent("skipped: %s", reason),
				Skipped:  true,
			})
			continue
		}

		if before != nil {
			before(i, g)
		}

		attempt := c.attempt(ctx, i, g, req)
		res.Attempts = append(res.Attempts, attempt)
		res.Outcome = attempt.Outcome

		switch attempt.Outcome.Status {
		case Approved, Declined:
			return res
		case PermanentError:
			rejectedKinds[g.Kind()] = attempt.Outcome.Reason
		}
	}

	return res
}

func (c *Chain) attempt(ctx context.Context, i int, g Gateway, req Request) Attempt {
	ctx, span := tracer.Start(ctx, "gateway.authorize", trace.WithAttributes(
		attribute.String("gateway.name", g.Name()),
		attribute.String("gateway.kind", g.Kind()),
		attribute.Int("gateway.position", i),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	outcome := g.Authorize(callCtx, req)
	elapsed := time.Since(start)

	if !outcome.Status.Final() && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		outcome = Transient("timed out after %s", c.timeout)
	}
	if outcome.Status == Approved {
		if outcome.TransactionID == "" {
			outcome = Permanent("approval without transaction id")
		} else if outcome.Processor == "" {
			outcome.Processor = g.Name()
		}
	}
	if outcome.Status == 0 {
		outcome = Permanent("gateway returned no outcome")
	}

	attrs := metric.WithAttributes(
		attribute.String("gateway", g.Name()),
		attribute.String("status", outcome.Status.String()),
	)
	c.outcomes.Add(ctx, 1, attrs)
	c.latency.Record(ctx, elapsed.Seconds(), attrs)

	span.SetAttributes(attribute.String("gateway.outcome", outcome.Status.String()))
	if !outcome.Status.Final() {
		span.SetStatus(codes.Error, outcome.Reason)
	}

	c.logger.InfoContext(ctx, "gateway attempt",
		slog.String("gateway", g.Name()),
		slog.Int("position", i),
		slog.String("outcome", outcome.Status.String()),
		slog.String("reason", outcome.Reason),
		slog.Duration("elapsed", elapsed),
	)

	return Attempt{
		Position: i,
		Gateway:  g.Name(),
		Kind:     g.Kind(),
		Outcome:  outcome,
		Duration: elapsed,
	}
}
