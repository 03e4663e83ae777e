package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/collector"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

const cloudMonitorVersion = "2018-01-01"

// CloudMonitorSource fetches ALB QPS from BytePlus CloudMonitor. It
// implements collector.Source for "alb:" load source references, where the
// reference payload is the ALB resource id.
type CloudMonitorSource struct {
	client *Client
	region string
}

func NewCloudMonitorSource(client *Client, region string) *CloudMonitorSource {
	return &CloudMonitorSource{client: client, region: region}
}

func (s *CloudMonitorSource) Name() string { return "alb" }

type metricDataRequest struct {
	MetricName   string           `json:"MetricName"`
	StartTime    int64            `json:"StartTime"`
	EndTime      int64            `json:"EndTime"`
	Namespace    string           `json:"Namespace"`
	Instances    []metricInstance `json:"Instances"`
	GroupBy      []string         `json:"GroupBy"`
	SubNamespace string           `json:"SubNamespace"`
	Region       string           `json:"Region"`
	Period       string           `json:"Period"`
}

type metricInstance struct {
	Dimensions []metricDimension `json:"Dimensions"`
}

type metricDimension struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type metricDataResponse struct {
	Result struct {
		Data struct {
			MetricDataResults []struct {
				DataPoints []struct {
					Timestamp int64   `json:"Timestamp"`
					Value     float64 `json:"Value"`
				} `json:"DataPoints"`
			} `json:"MetricDataResults"`
		} `json:"Data"`
	} `json:"Result"`
}

// FetchQPS averages the load_balancer_qps datapoints for the ALB over the
// window ending at now. A window with no datapoints (a brand-new ALB, or a
// monitoring lag) maps to ErrMetricUnavailable so the evaluator can treat
// it as a per-policy failure.
func (s *CloudMonitorSource) FetchQPS(ctx context.Context, albID string, window time.Duration, now time.Time) (float64, error) {
	start := now.Add(-window)

	body := metricDataRequest{
		MetricName: "load_balancer_qps",
		StartTime:  start.Unix(),
		EndTime:    now.Unix(),
		Namespace:  "VCM_ALB",
		Instances: []metricInstance{{
			Dimensions: []metricDimension{{Name: "ResourceID", Value: albID}},
		}},
		GroupBy:      []string{},
		SubNamespace: "loadbalancer",
		Region:       s.region,
		Period:       periodFor(window),
	}

	raw, err := s.client.Call(ctx, http.MethodPost, ServiceCloudMonitor, cloudMonitorVersion, "GetMetricData", nil, body)
	if err != nil {
		return 0, fmt.Errorf("fetching qps for alb %s: %v: %w", albID, err, interfaces.ErrMetricUnavailable)
	}

	var parsed metricDataResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("fetching qps for alb %s: decode response: %v: %w", albID, err, interfaces.ErrMetricUnavailable)
	}

	results := parsed.Result.Data.MetricDataResults
	if len(results) == 0 || len(results[0].DataPoints) == 0 {
		return 0, fmt.Errorf("no qps datapoints for alb %s in the last %s: %w", albID, window, interfaces.ErrMetricUnavailable)
	}

	ts := collector.TimeSeries{Metric: "load_balancer_qps"}
	for _, p := range results[0].DataPoints {
		ts.AddPoint(time.Unix(p.Timestamp, 0), p.Value)
	}
	avg, ok := ts.Average(window, now)
	if !ok {
		return 0, fmt.Errorf("no qps datapoints for alb %s inside the last %s: %w", albID, window, interfaces.ErrMetricUnavailable)
	}
	return avg, nil
}

// periodFor picks the CloudMonitor aggregation period for a query window.
// Short windows get fine-grained samples; anything over ten minutes uses
// five-minute buckets, the coarsest granularity worth averaging.
func periodFor(window time.Duration) string {
	switch {
	case window <= 30*time.Second:
		return "15s"
	case window <= 2*time.Minute:
		return "30s"
	case window <= 10*time.Minute:
		return "1m"
	default:
		return "5m"
	}
}
