package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

func TestNotifyPostsPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Notify(context.Background(), interfaces.EvaluationResult{
		PolicyName:      "web-tier",
		Action:          interfaces.ActionScaleUp,
		Status:          "scaled",
		DesiredCapacity: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "byteplus-alb-autoscaling", got.Service)
	assert.NotEmpty(t, got.Timestamp)
	assert.Equal(t, "web-tier", got.Result.PolicyName)
	assert.Equal(t, interfaces.ActionScaleUp, got.Result.Action)
}

func TestNotifyNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Notify(context.Background(), interfaces.EvaluationResult{})
	assert.Error(t, err)
}

func TestNilNotifierIsSilent(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), interfaces.EvaluationResult{}))
	assert.Nil(t, NewNotifier(""))
}
