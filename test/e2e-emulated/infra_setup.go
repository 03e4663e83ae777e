package e2eemulated

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// emulator is an in-process stand-in for the BytePlus AutoScaling and
// CloudMonitor APIs. It speaks just enough of both protocols for the real
// signed client to run the full pipeline against it: groups are resized,
// metric queries answered, and every capacity change recorded.
type emulator struct {
	mu sync.Mutex

	groups map[string]*emulatedGroup

	// qps maps ALB resource IDs to the value GetMetricData reports.
	// Absent IDs yield an empty datapoint set, which the client treats
	// as the metric being unavailable.
	qps map[string]float64

	// activityStatus is the StatusCode DescribeScalingActivities reports
	// for a group; empty means no activities at all.
	activityStatus map[string]string

	modifyCalls []modifyCall
}

type emulatedGroup struct {
	Current int
	Desired int
	Min     int
	Max     int
}

type modifyCall struct {
	GroupRef string
	Desired  int
}

func newEmulator() *emulator {
	return &emulator{
		groups:         map[string]*emulatedGroup{},
		qps:            map[string]float64{},
		activityStatus: map[string]string{},
	}
}

func (e *emulator) setGroup(ref string, current, min, max int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groups[ref] = &emulatedGroup{Current: current, Desired: current, Min: min, Max: max}
}

func (e *emulator) setQPS(albID string, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.qps[albID] = value
}

func (e *emulator) dropQPS(albID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.qps, albID)
}

func (e *emulator) setActivityStatus(ref, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activityStatus[ref] = status
}

func (e *emulator) group(ref string) emulatedGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.groups[ref]; ok {
		return *g
	}
	return emulatedGroup{}
}

func (e *emulator) modifyCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.modifyCalls)
}

func (e *emulator) resetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modifyCalls = nil
}

func (e *emulator) start() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(e.handle))
}

func (e *emulator) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("Action") {
	case "DescribeScalingGroups":
		e.describeScalingGroups(w, r)
	case "ModifyScalingGroup":
		e.modifyScalingGroup(w, r)
	case "DescribeScalingActivities":
		e.describeScalingActivities(w, r)
	case "GetMetricData":
		e.getMetricData(w, r)
	default:
		writeAPIError(w, http.StatusNotFound, "InvalidAction", "unknown action "+r.URL.Query().Get("Action"))
	}
}

func (e *emulator) describeScalingGroups(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ScalingGroupIds.1")

	e.mu.Lock()
	defer e.mu.Unlock()

	groups := []map[string]any{}
	if g, ok := e.groups[ref]; ok {
		groups = append(groups, map[string]any{
			"ScalingGroupId":       ref,
			"LifecycleState":       "Active",
			"TotalInstanceCount":   g.Current,
			"DesireInstanceNumber": g.Desired,
			"MinInstanceNumber":    g.Min,
			"MaxInstanceNumber":    g.Max,
		})
	}
	writeJSON(w, map[string]any{"Result": map[string]any{"ScalingGroups": groups}})
}

func (e *emulator) modifyScalingGroup(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ScalingGroupId")
	var desired int
	fmt.Sscanf(r.URL.Query().Get("DesireInstanceNumber"), "%d", &desired)

	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.groups[ref]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "InvalidScalingGroupId.NotFound", "scaling group not found")
		return
	}
	g.Desired = desired
	g.Current = desired // the emulator converges instantly
	e.modifyCalls = append(e.modifyCalls, modifyCall{GroupRef: ref, Desired: desired})

	writeJSON(w, map[string]any{"Result": map[string]any{"ScalingGroupId": ref}})
}

func (e *emulator) describeScalingActivities(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ScalingGroupId")

	e.mu.Lock()
	defer e.mu.Unlock()

	activities := []map[string]any{}
	if status := e.activityStatus[ref]; status != "" {
		activities = append(activities, map[string]any{
			"ScalingActivityId": "sga-emulated-1",
			"StatusCode":        status,
		})
	}
	writeJSON(w, map[string]any{"Result": map[string]any{"ScalingActivities": activities}})
}

func (e *emulator) getMetricData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instances []struct {
			Dimensions []struct {
				Name  string `json:"Name"`
				Value string `json:"Value"`
			} `json:"Dimensions"`
		} `json:"Instances"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Instances) == 0 || len(req.Instances[0].Dimensions) == 0 {
		writeAPIError(w, http.StatusBadRequest, "InvalidParameter", "malformed GetMetricData request")
		return
	}
	albID := req.Instances[0].Dimensions[0].Value

	e.mu.Lock()
	defer e.mu.Unlock()

	results := []map[string]any{}
	if value, ok := e.qps[albID]; ok {
		results = append(results, map[string]any{
			"DataPoints": []map[string]any{
				{"Timestamp": time.Now().Unix(), "Value": value},
			},
		})
	}
	writeJSON(w, map[string]any{
		"Result": map[string]any{"Data": map[string]any{"MetricDataResults": results}},
	})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ResponseMetadata": map[string]any{
			"Error": map[string]any{"Code": code, "Message": message},
		},
	})
}
