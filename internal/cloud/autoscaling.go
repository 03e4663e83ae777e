package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

const autoScalingVersion = "2020-01-01"

// AutoScalingBackend manages BytePlus scaling groups. It implements
// interfaces.CapacityBackend; every failure wraps ErrCapacityBackend so
// the evaluator can classify it.
type AutoScalingBackend struct {
	client *Client
}

func NewAutoScalingBackend(client *Client) *AutoScalingBackend {
	return &AutoScalingBackend{client: client}
}

type scalingGroupsResponse struct {
	Result struct {
		ScalingGroups []struct {
			ScalingGroupID      string `json:"ScalingGroupId"`
			LifecycleState      string `json:"LifecycleState"`
			TotalInstanceCount  int    `json:"TotalInstanceCount"`
			DesireInstanceCount int    `json:"DesireInstanceNumber"`
			MinInstanceNumber   int    `json:"MinInstanceNumber"`
			MaxInstanceNumber   int    `json:"MaxInstanceNumber"`
		} `json:"ScalingGroups"`
	} `json:"Result"`
}

// GroupStatus fetches the group's lifecycle state, instance counts, and
// bounds. The result is never cached: bounds may be edited by an operator
// at any time and decisions must see the current values.
func (b *AutoScalingBackend) GroupStatus(ctx context.Context, groupRef string) (interfaces.GroupStatus, error) {
	query := url.Values{}
	query.Set("ScalingGroupIds.1", groupRef)

	raw, err := b.client.Call(ctx, http.MethodGet, ServiceAutoScaling, autoScalingVersion, "DescribeScalingGroups", query, nil)
	if err != nil {
		return interfaces.GroupStatus{}, fmt.Errorf("describe scaling group %s: %v: %w", groupRef, err, interfaces.ErrCapacityBackend)
	}

	var parsed scalingGroupsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return interfaces.GroupStatus{}, fmt.Errorf("describe scaling group %s: decode response: %v: %w", groupRef, err, interfaces.ErrCapacityBackend)
	}
	if len(parsed.Result.ScalingGroups) == 0 {
		return interfaces.GroupStatus{}, fmt.Errorf("scaling group %s not found: %w", groupRef, interfaces.ErrCapacityBackend)
	}

	group := parsed.Result.ScalingGroups[0]
	return interfaces.GroupStatus{
		GroupRef:       groupRef,
		LifecycleState: group.LifecycleState,
		Current:        group.TotalInstanceCount,
		Desired:        group.DesireInstanceCount,
		Min:            group.MinInstanceNumber,
		Max:            group.MaxInstanceNumber,
	}, nil
}

// SetDesiredCapacity asks the group to converge to desired instances. The
// change is asynchronous on the BytePlus side; the handle carries the raw
// response for the audit trail.
func (b *AutoScalingBackend) SetDesiredCapacity(ctx context.Context, groupRef string, desired int) (interfaces.ActivityHandle, error) {
	query := url.Values{}
	query.Set("ScalingGroupId", groupRef)
	query.Set("DesireInstanceNumber", strconv.Itoa(desired))

	raw, err := b.client.Call(ctx, http.MethodGet, ServiceAutoScaling, autoScalingVersion, "ModifyScalingGroup", query, nil)
	if err != nil {
		return interfaces.ActivityHandle{}, fmt.Errorf("modify scaling group %s to %d instances: %v: %w", groupRef, desired, err, interfaces.ErrCapacityBackend)
	}

	var parsed struct {
		Result struct {
			ScalingGroupID string `json:"ScalingGroupId"`
		} `json:"Result"`
	}
	_ = json.Unmarshal(raw, &parsed)

	return interfaces.ActivityHandle{
		ActivityID: parsed.Result.ScalingGroupID,
		Raw:        string(raw),
	}, nil
}

type scalingActivitiesResponse struct {
	Result struct {
		ScalingActivities []struct {
			ActivityID string `json:"ScalingActivityId"`
			StatusCode string `json:"StatusCode"`
		} `json:"ScalingActivities"`
	} `json:"Result"`
}

// ScalingInProgress reports whether the group's most recent scaling
// activity is still Init or Running. Evaluations skip the group while the
// previous capacity change settles.
func (b *AutoScalingBackend) ScalingInProgress(ctx context.Context, groupRef string) (bool, error) {
	query := url.Values{}
	query.Set("ScalingGroupId", groupRef)
	query.Set("PageSize", "1")

	raw, err := b.client.Call(ctx, http.MethodGet, ServiceAutoScaling, autoScalingVersion, "DescribeScalingActivities", query, nil)
	if err != nil {
		return false, fmt.Errorf("describe scaling activities for %s: %v: %w", groupRef, err, interfaces.ErrCapacityBackend)
	}

	var parsed scalingActivitiesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, fmt.Errorf("describe scaling activities for %s: decode response: %v: %w", groupRef, err, interfaces.ErrCapacityBackend)
	}

	activities := parsed.Result.ScalingActivities
	if len(activities) == 0 {
		return false, nil
	}
	switch activities[0].StatusCode {
	case "Init", "Running":
		return true, nil
	default:
		return false, nil
	}
}
