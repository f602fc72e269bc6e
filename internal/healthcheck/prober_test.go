package healthcheck_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/healthcheck"
	"github.com/angeloszaimis/poolgate/internal/store"
	"github.com/angeloszaimis/poolgate/internal/upstream"
)

var _ = Describe("Prober", func() {
	var (
		ctx      context.Context
		st       *store.Memory
		tracker  *health.Tracker
		server   *httptest.Server
		prober   *healthcheck.Prober
		statuses *sync.Map
		inFlight atomic.Int32
		peak     atomic.Int32
		lastBody atomic.Value
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemory()
		tracker = health.NewTracker(st, health.DefaultPolicy())
		statuses = &sync.Map{}
		inFlight.Store(0)
		peak.Store(0)

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)

			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			lastBody.Store(body)

			key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			status := http.StatusOK
			if v, ok := statuses.Load(key); ok {
				status = v.(int)
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{}`))
		}))

		log := slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		client := upstream.NewClient(server.URL, time.Second)
		prober = healthcheck.NewProber(st, tracker, client, nil, log, healthcheck.Config{
			Interval:    time.Second,
			Concurrency: 2,
			Timeout:     time.Second,
			Model:       "gpt-4o-mini",
		})
	})

	AfterEach(func() {
		prober.Stop()
		server.Close()
	})

	register := func(ids ...string) {
		for _, id := range ids {
			Expect(st.Put(ctx, account.New(id, "sk-"+id))).To(Succeed())
		}
	}

	Describe("Check", func() {
		It("should send a minimal chat completion", func() {
			register("a")

			result, err := prober.Check(ctx, "a", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Healthy).To(BeTrue())
			Expect(result.StatusCode).To(Equal(http.StatusOK))

			body := lastBody.Load().(map[string]any)
			Expect(body["model"]).To(Equal("gpt-4o-mini"))
			Expect(body["max_tokens"]).To(BeNumerically("==", 5))
		})

		It("should count a failed probe against the account", func() {
			register("a")
			statuses.Store("sk-a", http.StatusServiceUnavailable)

			result, err := prober.Check(ctx, "a", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Healthy).To(BeFalse())
			Expect(result.Error).To(ContainSubstring("503"))

			acc, _ := st.Get(ctx, "a")
			Expect(acc.ConsecutiveFailures).To(Equal(1))
		})

		It("should disable an account whose credential is rejected", func() {
			register("a")
			statuses.Store("sk-a", http.StatusUnauthorized)

			result, err := prober.Check(ctx, "a", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(account.StatusDisabled))
		})

		It("should reinstate a disabled account when asked to", func() {
			register("a")
			_, err := st.MarkDisabled(ctx, "a", "operator")
			Expect(err).NotTo(HaveOccurred())

			result, err := prober.Check(ctx, "a", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(account.StatusDisabled))

			result, err = prober.Check(ctx, "a", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(account.StatusActive))
		})

		It("should fail for unknown accounts", func() {
			_, err := prober.Check(ctx, "missing", false)
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("CheckAll", func() {
		It("should probe every account that is not disabled", func() {
			register("a", "b", "c", "d")
			statuses.Store("sk-b", http.StatusInternalServerError)
			_, err := st.MarkDisabled(ctx, "d", "banned")
			Expect(err).NotTo(HaveOccurred())

			summary, err := prober.CheckAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Checked).To(Equal(3))
			Expect(summary.Healthy).To(Equal(2))
			Expect(summary.Failed).To(Equal(1))
		})

		It("should respect the concurrency limit", func() {
			register("a", "b", "c", "d", "e", "f")

			_, err := prober.CheckAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(peak.Load()).To(BeNumerically("<=", 2))
		})
	})

	Describe("Start", func() {
		It("should sweep on schedule until stopped", func() {
			register("a")
			statuses.Store("sk-a", http.StatusServiceUnavailable)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			Expect(prober.Start(runCtx)).To(Succeed())
			Expect(prober.NextRun()).NotTo(BeNil())

			Eventually(func() int {
				acc, _ := st.Get(ctx, "a")
				return acc.ConsecutiveFailures
			}, 3*time.Second, 50*time.Millisecond).Should(BeNumerically(">=", 1))
		})
	})
})
