package e2eemulated

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/alert"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/cloud"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/collector"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/config"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/evaluator"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/metrics"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/recorder"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/store"
)

const (
	testRegion = "ap-southeast-1"

	albWeb = "alb-1iidd17vhkzqo74adhfz"
	albAPI = "alb-2jjee28wikar185beig0"
	scgWeb = "scg-ybru8pazhvl8j1di4tyd"
	scgAPI = "scg-ybrvfadmi7gr9v7y1q2j"
)

// harness wires a fresh store and batch against the shared emulator and
// captures outgoing webhook alerts.
type harness struct {
	store *store.Store
	batch *evaluator.Batch

	webhook *httptest.Server

	mu     sync.Mutex
	alerts []interfaces.EvaluationResult
}

func newHarness() *harness {
	h := &harness{}

	h.webhook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Result interfaces.EvaluationResult `json:"result"`
		}
		Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
		h.mu.Lock()
		h.alerts = append(h.alerts, payload.Result)
		h.mu.Unlock()
	}))

	st, err := store.Open(":memory:")
	Expect(err).NotTo(HaveOccurred())
	h.store = st

	client := cloud.NewClient(cloud.Credentials{
		AccessKeyID:     "AKEMULATED",
		SecretAccessKey: "emulated-secret",
		Region:          testRegion,
	}, cloud.WithBaseURL(apiServer.URL), cloud.WithHTTPClient(apiServer.Client()))
	backend := cloud.NewAutoScalingBackend(client)

	h.batch = evaluator.New(
		st, st, st, st,
		recorder.New(st),
		collector.NewRouter(cloud.NewCloudMonitorSource(client, testRegion)),
		backend,
		metrics.NewEmitter(),
		alert.NewNotifier(h.webhook.URL),
		evaluator.Options{},
	)
	return h
}

func (h *harness) close() {
	Expect(h.store.Close()).To(Succeed())
	h.webhook.Close()
}

func (h *harness) alertCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.alerts)
}

// applyPolicy resolves a spec against the built-in defaults and stores it,
// the same path "albscaler policies apply" takes.
func (h *harness) applyPolicy(ctx context.Context, spec config.PolicySpec) interfaces.Policy {
	p, err := config.Resolve(config.Default().Defaults, testRegion, spec)
	Expect(err).NotTo(HaveOccurred())
	Expect(config.ValidatePolicy(p)).To(Succeed())
	id, err := h.store.UpsertPolicy(ctx, p)
	Expect(err).NotTo(HaveOccurred())
	p.ID = id
	return p
}

func resultFor(results []interfaces.EvaluationResult, name string) interfaces.EvaluationResult {
	for _, r := range results {
		if r.PolicyName == name {
			return r
		}
	}
	Fail("no result for policy " + name)
	return interfaces.EvaluationResult{}
}

var _ = Describe("scaling pipeline", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness()
		api.setGroup(scgWeb, 2, 1, 10)
		api.setGroup(scgAPI, 4, 1, 10)
		api.setQPS(albWeb, 120.5)
		api.setQPS(albAPI, 100)
		api.setActivityStatus(scgWeb, "")
		api.setActivityStatus(scgAPI, "")
		api.resetCalls()
	})

	AfterEach(func() {
		h.close()
	})

	It("scales a group up when QPS exceeds the target", func() {
		h.applyPolicy(ctx, config.PolicySpec{
			Name:             "web-frontend",
			LoadSourceRef:    "alb:" + albWeb,
			CapacityGroupRef: scgWeb,
		})

		results, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))

		// ceil(120.5 / 50) = 3 instances.
		r := results[0]
		Expect(r.Status).To(Equal(evaluator.OutcomeScaled))
		Expect(r.Action).To(Equal(interfaces.ActionScaleUp))
		Expect(r.DesiredCapacity).To(Equal(3))
		Expect(api.group(scgWeb).Current).To(Equal(3))

		activities, err := h.store.RecentActivities(ctx, r.PolicyID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(activities).To(HaveLen(1))
		Expect(activities[0].Status).To(Equal(interfaces.StatusAccepted))
		Expect(activities[0].DesiredCapacity).To(Equal(3))

		Eventually(h.alertCount).Should(Equal(1))
	})

	It("refuses a second change while the scale-up cooldown runs", func() {
		h.applyPolicy(ctx, config.PolicySpec{
			Name:             "web-frontend",
			LoadSourceRef:    "alb:" + albWeb,
			CapacityGroupRef: scgWeb,
		})

		_, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(api.modifyCallCount()).To(Equal(1))

		// Even more load right away: the cooldown must hold the line.
		api.setQPS(albWeb, 400)
		results, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		r := results[0]
		Expect(r.Status).To(Equal(evaluator.OutcomeSkipped))
		Expect(api.modifyCallCount()).To(Equal(1))
		Expect(api.group(scgWeb).Current).To(Equal(3))
	})

	It("records the repeat of an identical decision as a duplicate", func() {
		h.applyPolicy(ctx, config.PolicySpec{
			Name:              "web-frontend",
			LoadSourceRef:     "alb:" + albWeb,
			CapacityGroupRef:  scgWeb,
			ScaleUpCooldown:   "0s",
			ScaleDownCooldown: "0s",
			GeneralCooldown:   "0s",
		})

		results, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Status).To(Equal(evaluator.OutcomeScaled))

		// Rewind the group so the second run reaches the same decision
		// inside the same activity-key time bucket.
		api.setGroup(scgWeb, 2, 1, 10)

		results, err = h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Status).To(Equal(evaluator.OutcomeDuplicate))

		activities, err := h.store.RecentActivities(ctx, results[0].PolicyID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(activities).To(HaveLen(1))
	})

	It("keeps dry-run policies away from the backend", func() {
		dry := true
		h.applyPolicy(ctx, config.PolicySpec{
			Name:             "web-frontend",
			LoadSourceRef:    "alb:" + albWeb,
			CapacityGroupRef: scgWeb,
			DryRun:           &dry,
		})

		results, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		r := results[0]
		Expect(r.Status).To(Equal(evaluator.OutcomeDryRun))
		Expect(r.DesiredCapacity).To(Equal(3))
		Expect(api.modifyCallCount()).To(BeZero())
		Expect(api.group(scgWeb).Current).To(Equal(2))

		activities, err := h.store.RecentActivities(ctx, r.PolicyID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(activities).To(HaveLen(1))
		Expect(activities[0].Status).To(Equal(interfaces.StatusDryRun))
	})

	It("isolates a broken metric source to its own policy", func() {
		h.applyPolicy(ctx, config.PolicySpec{
			Name:             "web-frontend",
			LoadSourceRef:    "alb:" + albWeb,
			CapacityGroupRef: scgWeb,
		})
		h.applyPolicy(ctx, config.PolicySpec{
			Name:             "api-gateway",
			LoadSourceRef:    "alb:" + albAPI,
			CapacityGroupRef: scgAPI,
		})
		api.dropQPS(albAPI)

		results, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))

		Expect(resultFor(results, "web-frontend").Status).To(Equal(evaluator.OutcomeScaled))

		broken := resultFor(results, "api-gateway")
		Expect(broken.Status).To(Equal(evaluator.OutcomeFailed))
		Expect(broken.Reason).To(Equal(evaluator.ReasonMetricsUnavailable))
		Expect(api.group(scgAPI).Current).To(Equal(4))
	})

	It("skips a suspended policy without touching the cloud", func() {
		p := h.applyPolicy(ctx, config.PolicySpec{
			Name:             "web-frontend",
			LoadSourceRef:    "alb:" + albWeb,
			CapacityGroupRef: scgWeb,
		})
		Expect(h.store.SetSuspended(ctx, p.ID, true)).To(Succeed())

		results, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(results[0].Status).To(Equal(evaluator.OutcomeSkipped))
		Expect(api.modifyCallCount()).To(BeZero())
	})

	It("waits while a previous scaling activity is still running", func() {
		h.applyPolicy(ctx, config.PolicySpec{
			Name:             "web-frontend",
			LoadSourceRef:    "alb:" + albWeb,
			CapacityGroupRef: scgWeb,
		})
		api.setActivityStatus(scgWeb, "Running")

		results, err := h.batch.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		r := results[0]
		Expect(r.Status).To(Equal(evaluator.OutcomeSkipped))
		Expect(r.Reason).To(Equal(evaluator.ReasonScalingInProgress))
		Expect(api.modifyCallCount()).To(BeZero())
	})
})
