package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// ServiceVersion is reported as service.version on exported metrics.
var ServiceVersion = "dev"

// aggregationCumulative is the OTLP AGGREGATION_TEMPORALITY_CUMULATIVE value.
const aggregationCumulative = 2

// OTLPExporter posts metrics to an OTLP/HTTP endpoint using the JSON encoding.
type OTLPExporter struct {
	endpoint string
	client   *retryingClient
}

func NewOTLPExporter(endpoint string) *OTLPExporter {
	return &OTLPExporter{
		endpoint: endpoint,
		client: &retryingClient{
			client: &http.Client{Timeout: 30 * time.Second},
			retry:  DefaultRetryConfig(),
		},
	}
}

type otlpPayload struct {
	ResourceMetrics []otlpResourceMetrics `json:"resourceMetrics"`
}

type otlpResourceMetrics struct {
	Resource     otlpResource       `json:"resource"`
	ScopeMetrics []otlpScopeMetrics `json:"scopeMetrics"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpScopeMetrics struct {
	Scope   otlpScope    `json:"scope"`
	Metrics []otlpMetric `json:"metrics"`
}

type otlpScope struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type otlpMetric struct {
	Name      string         `json:"name"`
	Unit      string         `json:"unit,omitempty"`
	Sum       *otlpSum       `json:"sum,omitempty"`
	Gauge     *otlpGauge     `json:"gauge,omitempty"`
	Histogram *otlpHistogram `json:"histogram,omitempty"`
}

type otlpSum struct {
	DataPoints             []otlpNumberPoint `json:"dataPoints"`
	AggregationTemporality int               `json:"aggregationTemporality"`
	IsMonotonic            bool              `json:"isMonotonic"`
}

type otlpGauge struct {
	DataPoints []otlpNumberPoint `json:"dataPoints"`
}

type otlpHistogram struct {
	DataPoints             []otlpHistogramPoint `json:"dataPoints"`
	AggregationTemporality int                  `json:"aggregationTemporality"`
}

type otlpNumberPoint struct {
	Attributes   []otlpAttribute `json:"attributes,omitempty"`
	TimeUnixNano int64           `json:"timeUnixNano"`
	AsDouble     float64         `json:"asDouble"`
}

type otlpHistogramPoint struct {
	Attributes     []otlpAttribute `json:"attributes,omitempty"`
	TimeUnixNano   int64           `json:"timeUnixNano"`
	Count          int64           `json:"count"`
	Sum            float64         `json:"sum"`
	BucketCounts   []int64         `json:"bucketCounts"`
	ExplicitBounds []float64       `json:"explicitBounds"`
}

type otlpAttribute struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue string `json:"stringValue,omitempty"`
}

// Export sends metrics in one request, retrying rate limits and server errors.
func (e *OTLPExporter) Export(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	data, err := json.Marshal(buildPayload(metrics))
	if err != nil {
		return fmt.Errorf("marshal OTLP payload: %w", err)
	}

	resp, err := e.client.Post(ctx, e.endpoint, "application/json", data)
	if err != nil {
		return fmt.Errorf("send metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("OTLP endpoint returned status %d", resp.StatusCode)
	}

	log.Debug().Str("endpoint", e.endpoint).Int("metric_count", len(metrics)).Msg("exported metrics")
	return nil
}

// buildPayload groups observations by name, one OTLP metric per name with a
// data point per observation, in first-seen order.
func buildPayload(metrics []Metric) otlpPayload {
	var order []string
	byName := map[string]*otlpMetric{}
	for _, m := range metrics {
		om, ok := byName[m.Name]
		if !ok {
			om = &otlpMetric{Name: m.Name, Unit: m.Unit}
			byName[m.Name] = om
			order = append(order, m.Name)
		}
		addPoint(om, m)
	}

	out := make([]otlpMetric, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return otlpPayload{ResourceMetrics: []otlpResourceMetrics{{
		Resource: otlpResource{Attributes: []otlpAttribute{
			{Key: "service.name", Value: otlpValue{StringValue: "framefarm"}},
			{Key: "service.version", Value: otlpValue{StringValue: ServiceVersion}},
		}},
		ScopeMetrics: []otlpScopeMetrics{{
			Scope:   otlpScope{Name: "framefarm-telemetry", Version: ServiceVersion},
			Metrics: out,
		}},
	}}}
}

func addPoint(om *otlpMetric, m Metric) {
	attrs := attributesOf(m.Labels)
	ts := m.Timestamp.UnixNano()
	point := otlpNumberPoint{Attributes: attrs, TimeUnixNano: ts, AsDouble: m.Value}

	switch m.Type {
	case Counter:
		if om.Sum == nil {
			om.Sum = &otlpSum{AggregationTemporality: aggregationCumulative, IsMonotonic: true}
		}
		om.Sum.DataPoints = append(om.Sum.DataPoints, point)
	case Histogram:
		if om.Histogram == nil {
			om.Histogram = &otlpHistogram{AggregationTemporality: aggregationCumulative}
		}
		om.Histogram.DataPoints = append(om.Histogram.DataPoints, otlpHistogramPoint{
			Attributes:     attrs,
			TimeUnixNano:   ts,
			Count:          1,
			Sum:            m.Value,
			BucketCounts:   []int64{1},
			ExplicitBounds: []float64{},
		})
	default:
		if om.Gauge == nil {
			om.Gauge = &otlpGauge{}
		}
		om.Gauge.DataPoints = append(om.Gauge.DataPoints, point)
	}
}

// attributesOf converts labels to OTLP attributes in key order.
func attributesOf(labels map[string]string) []otlpAttribute {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]otlpAttribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, otlpAttribute{Key: k, Value: otlpValue{StringValue: labels[k]}})
	}
	return out
}
