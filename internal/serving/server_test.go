package serving_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dyluth/effectd/internal/catalog"
	"github.com/dyluth/effectd/internal/resolver"
	"github.com/dyluth/effectd/internal/serving"
	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/dyluth/effectd/pkg/model/curve"
	"github.com/dyluth/effectd/pkg/model/ensemble"
	"github.com/dyluth/effectd/pkg/model/linear"
	"github.com/dyluth/effectd/pkg/model/tree"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	mr     *miniredis.Miniredis
	store  *knowledge.Client
	server *serving.Server
	http   *httptest.Server
	logs   *observer.ObservedLogs
}

func newHarness(cache bool) *harness {
	mr := miniredis.NewMiniRedis()
	Expect(mr.Start()).To(Succeed())
	DeferCleanup(mr.Close)

	store, err := knowledge.NewClient(&redis.Options{Addr: mr.Addr()}, "e2e")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(store.Close)

	cat, err := catalog.New(map[string][]string{
		"energy":  {"forest", "linear"},
		"rdt":     {"extratrees"},
		"scaling": {"extratrees", "curve"},
	})
	Expect(err).NotTo(HaveOccurred())

	core, logs := observer.New(zapcore.DebugLevel)

	srv, err := serving.New(serving.Options{
		DefaultGroup: "rdt",
		CacheHandles: cache,
		Now:          func() time.Time { return now },
	}, cat, resolver.New(store, resolver.Options{Lookback: 20 * time.Minute}), store, zap.New(core))
	Expect(err).NotTo(HaveOccurred())

	ts := httptest.NewServer(srv.Handler())
	DeferCleanup(ts.Close)

	return &harness{mr: mr, store: store, server: srv, http: ts, logs: logs}
}

func (h *harness) put(key knowledge.Key, node *blob.Node, order []string, encoding map[string][]string, ts time.Time, static bool) *knowledge.EffectRecord {
	data, err := blob.Encode(node)
	Expect(err).NotTo(HaveOccurred())

	rec := &knowledge.EffectRecord{
		ID:                   uuid.New().String(),
		Subject:              key.Subject,
		Group:                key.Group,
		Target:               key.Target,
		ModelBlob:            data,
		FeatureEncoding:      encoding,
		TrainingFeatureOrder: order,
		IsStatic:             static,
		Timestamp:            ts,
	}
	Expect(h.store.Insert(context.Background(), rec)).To(Succeed())
	return rec
}

func (h *harness) post(path, body string) (int, map[string]any) {
	resp, err := http.Post(h.http.URL+path, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())

	var out map[string]any
	Expect(json.Unmarshal(data, &out)).To(Succeed(), string(data))
	return resp.StatusCode, out
}

var energyKey = knowledge.Key{Subject: "svc", Group: "energy", Target: "p99"}

var _ = Describe("Serving front", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(false)
	})

	Describe("predict", func() {
		It("serves a static linear model", func() {
			h.put(energyKey, linear.Node([]float64{2}, 1), []string{"feature"}, map[string][]string{}, now.Add(-48*time.Hour), true)

			status, body := h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 3}}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("val", BeNumerically("~", 7.0, 1e-12)))
		})

		It("fails without a numeric payload when nothing is stored", func() {
			status, body := h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 3}}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body).To(Equal(map[string]any{"error": serving.ReasonNoModel, "stage": "resolving"}))
		})

		It("treats a stale record like a missing one", func() {
			h.put(energyKey, linear.Node([]float64{2}, 1), []string{"feature"}, nil, now.Add(-21*time.Minute), false)

			_, missing := h.post("/v1/effects/energy/predict", `{"subject": "other", "target": "p99", "features": {"feature": 3}}`)
			status, stale := h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 3}}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(stale).To(Equal(missing))
		})

		It("hides unregistered types behind the not-found response but logs them", func() {
			h.put(energyKey, blob.Object("os", "system", blob.F("cmd", blob.String("id"))), []string{"feature"}, nil, now, false)

			_, missing := h.post("/v1/effects/energy/predict", `{"subject": "other", "target": "p99", "features": {"feature": 3}}`)
			status, rejected := h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 3}}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(rejected).To(Equal(missing))

			violations := h.logs.FilterField(zap.String("event", "integrity_violation")).All()
			Expect(violations).To(HaveLen(1))
			Expect(violations[0].Level).To(Equal(zapcore.WarnLevel))
			Expect(violations[0].ContextMap()).To(HaveKey("blob_digest"))
		})

		It("hides a model from a group whose registry lacks its family", func() {
			h.put(knowledge.Key{Subject: "svc", Group: "rdt", Target: "p99"},
				linear.Node([]float64{1}, 0), []string{"cpu"}, nil, now, false)

			status, body := h.post("/v1/effects/rdt/predict", `{"name": "svc", "target": "p99", "cpu": 1}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body).To(HaveKeyWithValue("error", serving.ReasonNoModel))
			Expect(h.logs.FilterField(zap.String("event", "integrity_violation")).Len()).To(Equal(1))
		})

		It("serves the newest admissible record", func() {
			h.put(energyKey, linear.Node([]float64{1}, 0), []string{"feature"}, nil, now.Add(-time.Hour), true)
			h.put(energyKey, linear.Node([]float64{10}, 0), []string{"feature"}, nil, now.Add(-time.Minute), false)

			status, body := h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 2}}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["val"]).To(BeNumerically("~", 20.0, 1e-12))
		})

		It("accepts the flat legacy body on the default route", func() {
			key := knowledge.Key{Subject: "default/app", Group: "rdt", Target: "default/p99"}
			stump := tree.Stump(3, 1, 0.5, 10, 20)
			h.put(key, ensemble.Node(ensemble.KindExtraTrees, 3, stump, stump), []string{"cpu", "option", "replicas"},
				map[string][]string{"option": {"None", "COS1"}}, now, false)

			status, body := h.post("/", `{"name": "default/app", "target": "default/p99", "cpu": 2, "option": "COS1", "replicas": 1}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["val"]).To(BeNumerically("~", 20.0, 1e-12))
		})

		It("reports unseen categories at the dispatching stage", func() {
			key := knowledge.Key{Subject: "default/app", Group: "rdt", Target: "default/p99"}
			h.put(key, ensemble.Node(ensemble.KindExtraTrees, 2, tree.Constant(2, 1)), []string{"cpu", "option"},
				map[string][]string{"option": {"None", "COS1"}}, now, false)

			status, body := h.post("/v1/effects/rdt/predict", `{"name": "default/app", "target": "default/p99", "cpu": 2, "option": "COS9"}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body).To(HaveKeyWithValue("stage", "dispatching"))
			Expect(body["error"]).To(ContainSubstring("COS9"))
			Expect(body).NotTo(HaveKey("val"))
		})

		It("rejects malformed bodies", func() {
			status, body := h.post("/v1/effects/energy/predict", `{"target": "p99"}`)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body).To(HaveKeyWithValue("stage", "received"))

			status, _ = h.post("/v1/effects/energy/predict", `not json`)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("rejects unknown groups", func() {
			status, body := h.post("/v1/effects/nope/predict", `{"subject": "svc", "target": "p99"}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body).To(HaveKeyWithValue("stage", "received"))
		})

		It("maps store outages to 503", func() {
			h.mr.SetError("LOADING")
			status, body := h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 3}}`)
			Expect(status).To(Equal(http.StatusServiceUnavailable))
			Expect(body).NotTo(HaveKey("val"))
		})
	})

	Describe("forecast", func() {
		It("sweeps each objective one feature at a time", func() {
			key := func(target string) knowledge.Key {
				return knowledge.Key{Subject: "intent-a", Group: "energy", Target: target}
			}
			h.put(key("power"), linear.Node([]float64{1, 2, 3}, 0), []string{"a", "b", "c"}, nil, now, false)
			h.put(key("latency"), linear.Node([]float64{-1, 0, 1}, 10), []string{"a", "b", "c"}, nil, now, false)

			status, body := h.post("/v1/effects/energy/forecast", `{"intent": "intent-a", "objectives": ["power", "latency"], "cores": 2}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal(map[string]any{
				"power":   []any{2.0, 4.0, 6.0},
				"latency": []any{8.0, 10.0, 12.0},
			}))
		})

		It("fails when any objective has no model", func() {
			h.put(knowledge.Key{Subject: "intent-a", Group: "energy", Target: "power"},
				linear.Node([]float64{1}, 0), []string{"a"}, nil, now, false)

			status, body := h.post("/v1/effects/energy/forecast", `{"subject": "intent-a", "objectives": ["power", "latency"], "amount": 1}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body).To(HaveKeyWithValue("error", serving.ReasonNoModel))
		})

		It("evaluates scaling curves", func() {
			h.put(knowledge.Key{Subject: "svc", Group: "scaling", Target: "vertical"},
				curve.VerticalNode(&curve.Vertical{Params: [3]float64{1, 0, 0.5}}), []string{"cpu"}, nil, now, true)

			status, body := h.post("/v1/effects/scaling/forecast", `{"subject": "svc", "objectives": ["vertical"], "amount": 4}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["vertical"]).To(ConsistOf(BeNumerically("~", 1.5, 1e-12)))
		})
	})

	Describe("handle cache", func() {
		BeforeEach(func() {
			h = newHarness(true)
		})

		It("replaces the cached handle when a newer record lands", func() {
			h.put(energyKey, linear.Node([]float64{1}, 0), []string{"feature"}, nil, now.Add(-2*time.Minute), false)
			_, body := h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 5}}`)
			Expect(body["val"]).To(BeNumerically("~", 5.0, 1e-12))
			_, body = h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 5}}`)
			Expect(body["val"]).To(BeNumerically("~", 5.0, 1e-12))
			Expect(h.server.Cache().Len()).To(Equal(1))

			newer := h.put(energyKey, linear.Node([]float64{3}, 0), []string{"feature"}, nil, now.Add(-time.Minute), false)
			_, body = h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 5}}`)
			Expect(body["val"]).To(BeNumerically("~", 15.0, 1e-12))

			cached, ok := h.server.Cache().Get(newer)
			Expect(ok).To(BeTrue())
			Expect(cached.RecordID()).To(Equal(newer.ID))
		})
	})

	Describe("operational endpoints", func() {
		It("reports store health", func() {
			resp, err := http.Get(h.http.URL + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			h.mr.Close()
			resp, err = http.Get(h.http.URL + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

			var health serving.HealthResponse
			Expect(json.NewDecoder(resp.Body).Decode(&health)).To(Succeed())
			Expect(health.Status).To(Equal("unhealthy"))
		})

		It("exposes request metrics", func() {
			h.post("/v1/effects/energy/predict", `{"subject": "svc", "target": "p99", "features": {"feature": 3}}`)

			resp, err := http.Get(h.http.URL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`effectd_requests_total{code="404",endpoint="predict",group="energy",stage="resolving"} 1`))
		})
	})
})

// stallingStore never answers a query before its deadline.
type stallingStore struct{}

func (stallingStore) Find(ctx context.Context, _ knowledge.Query) ([]*knowledge.EffectRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingStore) Insert(context.Context, *knowledge.EffectRecord) error {
	return nil
}

var _ = Describe("Serving front with a stalled store", func() {
	It("maps a store timeout to 504 without a prediction", func() {
		cat, err := catalog.New(map[string][]string{"energy": {"linear"}})
		Expect(err).NotTo(HaveOccurred())

		res := resolver.New(stallingStore{}, resolver.Options{QueryTimeout: 20 * time.Millisecond})
		srv, err := serving.New(serving.Options{Now: func() time.Time { return now }}, cat, res, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		ts := httptest.NewServer(srv.Handler())
		DeferCleanup(ts.Close)

		resp, err := http.Post(ts.URL+"/v1/effects/energy/predict", "application/json",
			strings.NewReader(`{"subject": "svc", "target": "p99", "features": {"feature": 3}}`))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("stage", "resolving"))
		Expect(body).To(HaveKeyWithValue("error", "knowledge store timed out"))
		Expect(body).NotTo(HaveKey("val"))
	})
})
