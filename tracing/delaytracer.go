// Package tracing records what the connection manager does into a
// datarecording backend.
package tracing

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/delayreg/datarecording"
	"github.com/sarchlab/delayreg/hooking"
	"github.com/sarchlab/delayreg/kernel"
)

// DelayEventTable is the table delay events are written to.
const DelayEventTable = "delay_events"

// DelayEventEntry is one row of the delay event table. Times are in
// milliseconds.
type DelayEventEntry struct {
	Seq            uint64
	Position       string
	Model          string
	DelayMS        float64
	DelaySteps     int64
	MinDelayMS     float64
	MaxDelayMS     float64
	NumConnections uint64
	IsDefault      bool
	Widened        bool
}

// DelayTracer is a hook that writes every kernel.DelayEvent into a
// DataRecorder.
type DelayTracer struct {
	mu       sync.Mutex
	backend  datarecording.DataRecorder
	seq      uint64
	counts   map[string]uint64
	onlyWide bool
}

// NewDelayTracer creates a tracer and the table it writes to.
func NewDelayTracer(backend datarecording.DataRecorder) *DelayTracer {
	t := &DelayTracer{
		backend: backend,
		counts:  make(map[string]uint64),
	}

	backend.CreateTable(DelayEventTable, DelayEventEntry{})

	return t
}

// OnlyWidened makes the tracer skip registrations that did not move the
// extrema of their model.
func (t *DelayTracer) OnlyWidened() *DelayTracer {
	t.onlyWide = true
	return t
}

// Func records the event carried by ctx.
func (t *DelayTracer) Func(ctx hooking.HookCtx) {
	ev, ok := ctx.Detail.(kernel.DelayEvent)
	if !ok {
		return
	}

	if t.onlyWide && ctx.Pos == kernel.HookPosDelayRegistered && !ev.Widened {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.counts[ctx.Pos.Name]++

	t.backend.InsertData(DelayEventTable, DelayEventEntry{
		Seq:            t.seq,
		Position:       ctx.Pos.Name,
		Model:          ev.Model,
		DelayMS:        ev.Delay.MS(),
		DelaySteps:     ev.Delay.Steps(),
		MinDelayMS:     ev.MinDelay.MS(),
		MaxDelayMS:     ev.MaxDelay.MS(),
		NumConnections: ev.NumConnections,
		IsDefault:      ev.Default,
		Widened:        ev.Widened,
	})
}

// Counts returns how many events were recorded per hook position.
func (t *DelayTracer) Counts() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[string]uint64, len(t.counts))
	for pos, n := range t.counts {
		counts[pos] = n
	}

	return counts
}

// CollectTrace attaches the tracer to a domain. Attaching the same tracer
// twice panics.
func CollectTrace(domain hooking.Hookable, tracer *DelayTracer) {
	for _, hook := range domain.Hooks() {
		if hook == hooking.Hook(tracer) {
			panic(fmt.Sprintf("domain already has tracer %s",
				reflect.TypeOf(tracer)))
		}
	}

	domain.AcceptHook(tracer)
}

// ReadDelayEvents queries recorded delay events in recording order.
func ReadDelayEvents(
	ctx context.Context,
	reader datarecording.DataReader,
	params datarecording.QueryParams,
) ([]DelayEventEntry, int, error) {
	reader.MapTable(DelayEventTable, DelayEventEntry{})

	if params.OrderBy == "" {
		params.OrderBy = "Seq"
	}

	results, total, err := reader.Query(ctx, DelayEventTable, params)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]DelayEventEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, *r.(*DelayEventEntry))
	}

	return entries, total, nil
}
