package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// newTestClient returns a client routed at a local server that replies to
// each action with the given payload and status.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Credentials{
		AccessKeyID:     "AKTEST",
		SecretAccessKey: "secret",
		Region:          "ap-southeast-1",
	}, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestCallSendsSignedRequest(t *testing.T) {
	var gotAuth, gotAction, gotVersion string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAction = r.URL.Query().Get("Action")
		gotVersion = r.URL.Query().Get("Version")
		_, _ = w.Write([]byte(`{"Result":{}}`))
	})

	_, err := client.Call(context.Background(), http.MethodGet, ServiceAutoScaling, autoScalingVersion, "DescribeScalingGroups", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, gotAuth, "HMAC-SHA256 Credential=AKTEST/")
	assert.Equal(t, "DescribeScalingGroups", gotAction)
	assert.Equal(t, "2020-01-01", gotVersion)
}

func TestCallSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ResponseMetadata":{"Error":{"Code":"AccessDenied","Message":"no permission"}}}`))
	})

	_, err := client.Call(context.Background(), http.MethodGet, ServiceAutoScaling, autoScalingVersion, "ModifyScalingGroup", nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.HTTPStatus)
	assert.Equal(t, "AccessDenied", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "no permission")
}

func TestGroupStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "scg-yyyy", r.URL.Query().Get("ScalingGroupIds.1"))
		_, _ = w.Write([]byte(`{"Result":{"ScalingGroups":[{
			"ScalingGroupId":"scg-yyyy","LifecycleState":"Active",
			"TotalInstanceCount":2,"DesireInstanceNumber":2,
			"MinInstanceNumber":1,"MaxInstanceNumber":10}]}}`))
	})
	backend := NewAutoScalingBackend(client)

	got, err := backend.GroupStatus(context.Background(), "scg-yyyy")
	require.NoError(t, err)
	assert.Equal(t, interfaces.GroupStatus{
		GroupRef:       "scg-yyyy",
		LifecycleState: "Active",
		Current:        2,
		Desired:        2,
		Min:            1,
		Max:            10,
	}, got)
	assert.Equal(t, interfaces.Bounds{Min: 1, Max: 10}, got.Bounds())
}

func TestGroupStatusNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Result":{"ScalingGroups":[]}}`))
	})
	backend := NewAutoScalingBackend(client)

	_, err := backend.GroupStatus(context.Background(), "scg-missing")
	assert.True(t, errors.Is(err, interfaces.ErrCapacityBackend))
}

func TestSetDesiredCapacity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ModifyScalingGroup", r.URL.Query().Get("Action"))
		assert.Equal(t, "scg-yyyy", r.URL.Query().Get("ScalingGroupId"))
		assert.Equal(t, "3", r.URL.Query().Get("DesireInstanceNumber"))
		_, _ = w.Write([]byte(`{"Result":{"ScalingGroupId":"scg-yyyy"}}`))
	})
	backend := NewAutoScalingBackend(client)

	handle, err := backend.SetDesiredCapacity(context.Background(), "scg-yyyy", 3)
	require.NoError(t, err)
	assert.Equal(t, "scg-yyyy", handle.ActivityID)
	assert.Contains(t, handle.Raw, "ScalingGroupId")
}

func TestScalingInProgress(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"running activity", `{"Result":{"ScalingActivities":[{"ScalingActivityId":"sa-1","StatusCode":"Running"}]}}`, true},
		{"init activity", `{"Result":{"ScalingActivities":[{"ScalingActivityId":"sa-1","StatusCode":"Init"}]}}`, true},
		{"settled activity", `{"Result":{"ScalingActivities":[{"ScalingActivityId":"sa-1","StatusCode":"Successful"}]}}`, false},
		{"no activities", `{"Result":{"ScalingActivities":[]}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.payload))
			})
			backend := NewAutoScalingBackend(client)

			got, err := backend.ScalingInProgress(context.Background(), "scg-yyyy")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloudMonitorFetchQPS(t *testing.T) {
	var gotBody metricDataRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"Result":{"Data":{"MetricDataResults":[{"DataPoints":[
			{"Timestamp":1748779200,"Value":100},
			{"Timestamp":1748779260,"Value":120},
			{"Timestamp":1748779320,"Value":110}]}]}}}`))
	})
	source := NewCloudMonitorSource(client, "ap-southeast-1")

	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	got, err := source.FetchQPS(context.Background(), "alb-xxxx", 5*time.Minute, now)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, got, 1e-9)

	assert.Equal(t, "load_balancer_qps", gotBody.MetricName)
	assert.Equal(t, "VCM_ALB", gotBody.Namespace)
	assert.Equal(t, "loadbalancer", gotBody.SubNamespace)
	assert.Equal(t, "1m", gotBody.Period)
	assert.Equal(t, "alb-xxxx", gotBody.Instances[0].Dimensions[0].Value)
	assert.Equal(t, now.Add(-5*time.Minute).Unix(), gotBody.StartTime)
	assert.Equal(t, now.Unix(), gotBody.EndTime)
}

func TestCloudMonitorFetchQPSIgnoresStaleDatapoints(t *testing.T) {
	// 11:40 is outside the five-minute window; only the 12:02 point counts.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Result":{"Data":{"MetricDataResults":[{"DataPoints":[
			{"Timestamp":1748778000,"Value":900},
			{"Timestamp":1748779320,"Value":110}]}]}}}`))
	})
	source := NewCloudMonitorSource(client, "ap-southeast-1")

	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	got, err := source.FetchQPS(context.Background(), "alb-xxxx", 5*time.Minute, now)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, got, 1e-9)
}

func TestCloudMonitorAllDatapointsStale(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Result":{"Data":{"MetricDataResults":[{"DataPoints":[
			{"Timestamp":1748778000,"Value":900}]}]}}}`))
	})
	source := NewCloudMonitorSource(client, "ap-southeast-1")

	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	_, err := source.FetchQPS(context.Background(), "alb-xxxx", 5*time.Minute, now)
	assert.True(t, errors.Is(err, interfaces.ErrMetricUnavailable))
}

func TestCloudMonitorNoDatapoints(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Result":{"Data":{"MetricDataResults":[]}}}`))
	})
	source := NewCloudMonitorSource(client, "ap-southeast-1")

	_, err := source.FetchQPS(context.Background(), "alb-xxxx", 5*time.Minute, time.Now())
	assert.True(t, errors.Is(err, interfaces.ErrMetricUnavailable))
}

func TestPeriodFor(t *testing.T) {
	assert.Equal(t, "15s", periodFor(20*time.Second))
	assert.Equal(t, "30s", periodFor(2*time.Minute))
	assert.Equal(t, "1m", periodFor(5*time.Minute))
	assert.Equal(t, "5m", periodFor(time.Hour))
}
