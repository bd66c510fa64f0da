package telemetry

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteText writes metrics in the Prometheus text exposition format.
func WriteText(w io.Writer, metrics []Metric) error {
	typed := map[string]bool{}
	for _, metric := range metrics {
		if !typed[metric.Name] {
			typed[metric.Name] = true
			if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", metric.Name, promType(metric.Type)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s%s %g %d\n", metric.Name, labelString(metric.Labels), metric.Value, metric.Timestamp.UnixMilli()); err != nil {
			return err
		}
	}
	return nil
}

func promType(t MetricType) string {
	switch t {
	case Counter:
		return "counter"
	case Histogram:
		return "untyped"
	default:
		return "gauge"
	}
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}
