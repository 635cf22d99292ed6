package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	operationsRead int64
	rowsWritten    int64
	warnCounts     sync.Map // map[string]*int64
	errorCounts    sync.Map // map[string]*int64
)

func counter(m *sync.Map, component string) *int64 {
	if v, ok := m.Load(component); ok {
		return v.(*int64)
	}
	v, _ := m.LoadOrStore(component, new(int64))
	return v.(*int64)
}

func recordWarn(component string) {
	atomic.AddInt64(counter(&warnCounts, component), 1)
}

func recordError(component string) {
	atomic.AddInt64(counter(&errorCounts, component), 1)
}

// IncrementOperationsRead records operations pulled from the history feed.
func IncrementOperationsRead(n int) {
	atomic.AddInt64(&operationsRead, int64(n))
}

// IncrementRowsWritten records rows emitted to the export sink.
func IncrementRowsWritten(n int) {
	atomic.AddInt64(&rowsWritten, int64(n))
}

func sumCounts(m *sync.Map) int64 {
	var total int64
	m.Range(func(_, v interface{}) bool {
		total += atomic.LoadInt64(v.(*int64))
		return true
	})
	return total
}

// StartReport launches a goroutine that periodically logs run progress and
// host resource usage, and mirrors the counters to CloudWatch when the client
// is configured. It stops when the context is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitReport(ctx, log)
			}
		}
	}()
}

func emitReport(ctx context.Context, log *Log) {
	ops := atomic.LoadInt64(&operationsRead)
	rows := atomic.LoadInt64(&rowsWritten)
	warns := sumCounts(&warnCounts)
	errs := sumCounts(&errorCounts)

	fields := Fields{
		"operations_read": ops,
		"rows_written":    rows,
		"warnings":        warns,
		"errors":          errs,
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		fields["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["memory_mb"] = float64(vm.Used) / (1024 * 1024)
	}

	log.WithComponent("report").WithFields(fields).Info("export progress")

	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("OperationsRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(ops))},
		{MetricName: aws.String("RowsWritten"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(rows))},
		{MetricName: aws.String("ExportErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(errs))},
	})
}
