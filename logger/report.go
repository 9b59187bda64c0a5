package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

var components sync.Map // map[string]*componentStat

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// Counts returns the warn and error totals logged by a component.
func Counts(component string) (warns, errors int64) {
	cs := componentStats(component)
	return atomic.LoadInt64(&cs.warns), atomic.LoadInt64(&cs.errors)
}

// ReportProbe supplies numeric gauges for the periodic runtime report.
type ReportProbe func() map[string]float64

// StartReport logs a runtime report every interval until ctx is done and
// mirrors it to CloudWatch.
func StartReport(ctx context.Context, log *Log, interval time.Duration, probe ReportProbe) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log, probe)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log, probe ReportProbe) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	gauges := map[string]float64{
		"Goroutines": float64(runtime.NumGoroutine()),
		"HeapMB":     float64(mem.HeapAlloc) / 1024 / 1024,
	}
	if probe != nil {
		for k, v := range probe() {
			gauges[k] = v
		}
	}

	perComponent := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		perComponent[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	fields := Fields{"components": perComponent}
	for k, v := range gauges {
		fields[k] = v
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	names := make([]string, 0, len(gauges))
	for k := range gauges {
		names = append(names, k)
	}
	sort.Strings(names)
	data := make([]cwtypes.MetricDatum, 0, len(names)+2*len(perComponent))
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(gauges[name]),
		})
	}
	for component, stats := range perComponent {
		dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("Warnings"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["warns"]))},
			cwtypes.MetricDatum{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["errors"]))},
		)
	}
	publishMetrics(ctx, data)
}
