// Package local implements the LocalCollector, which samples host CPU, RAM
// and (when available) temperature sensors via gopsutil.
package local

import (
	"context"
	"math"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

// sensorPriority lists temperature sensor keys in the order they are probed;
// the first one present in the host's reading wins. Absent sensors omit the
// temperature metric entirely rather than reporting a zero.
var sensorPriority = []string{"coretemp", "k10temp", "zenpower"}

// Collector samples local host metrics.
type Collector struct {
	precision int
}

// New builds a LocalCollector. precision is the number of decimal places
// metrics are rounded to before being emitted.
func New(precision int) *Collector {
	return &Collector{precision: precision}
}

// Source identifies this collector.
func (c *Collector) Source() string { return "local" }

// Collect samples CPU%, RAM% and RAM usage in MB, plus temperature when any
// sensor reading is available (known sensors are preferred).
func (c *Collector) Collect(ctx context.Context) ([]metric.MetricEntry, error) {
	var entries []metric.MetricEntry

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(cpuPercents) > 0 {
		m, err := metric.NewMetricEntry("cpu_usage_percent", c.round(cpuPercents[0]), "percent")
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	ramPercent, err := metric.NewMetricEntry("ram_usage_percent", c.round(vm.UsedPercent), "percent")
	if err != nil {
		return nil, err
	}
	ramMB, err := metric.NewMetricEntry("ram_usage_mb", c.round(float64(vm.Used)/1024/1024), "MB")
	if err != nil {
		return nil, err
	}
	entries = append(entries, ramPercent, ramMB)

	if temp, ok, err := c.readTemperature(ctx); err != nil {
		return nil, err
	} else if ok {
		m, err := metric.NewMetricEntry("cpu_temperature_celsius", c.round(temp), "celsius")
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}

	return entries, nil
}

func (c *Collector) readTemperature(ctx context.Context) (float64, bool, error) {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		// gopsutil returns a non-fatal partial error on many hosts when some
		// sensors are unreadable; treat "no sensors" the same as an empty list.
		if len(sensors) == 0 {
			return 0, false, nil
		}
	}

	byKey := make(map[string]float64, len(sensors))
	for _, s := range sensors {
		byKey[s.SensorKey] = s.Temperature
	}

	for _, key := range sensorPriority {
		for sensorKey, v := range byKey {
			if strings.Contains(strings.ToLower(sensorKey), key) {
				return v, true, nil
			}
		}
	}

	// none of the named sensors matched; fall back to whatever reading is
	// available rather than dropping the metric on hosts with an unlisted
	// sensor (e.g. acpitz).
	for _, s := range sensors {
		return s.Temperature, true, nil
	}
	return 0, false, nil
}

func (c *Collector) round(v float64) float64 {
	if c.precision <= 0 {
		return math.Round(v)
	}
	mul := math.Pow(10, float64(c.precision))
	return math.Round(v*mul) / mul
}
