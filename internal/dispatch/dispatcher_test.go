package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/dispatch"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/requestlog"
	"github.com/angeloszaimis/poolgate/internal/selector"
	"github.com/angeloszaimis/poolgate/internal/store"
	"github.com/angeloszaimis/poolgate/internal/strategy"
	"github.com/angeloszaimis/poolgate/internal/upstream"
)

// fakeUpstream answers by API key.
type fakeUpstream struct {
	mutex    sync.Mutex
	statuses map[string]int
	hits     map[string]int
	block    bool
}

func (f *fakeUpstream) set(key string, status int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.statuses[key] = status
}

func (f *fakeUpstream) hitsFor(key string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.hits[key]
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	f.mutex.Lock()
	f.hits[key]++
	status, ok := f.statuses[key]
	block := f.block
	f.mutex.Unlock()

	if block {
		<-r.Context().Done()
		return
	}
	if !ok {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status >= 400 {
		_, _ = w.Write([]byte(`{"error":{"message":"status ` + http.StatusText(status) + `"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"id":"chatcmpl-1","key":"` + key + `"}`))
}

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		st         *store.Memory
		ring       *requestlog.Ring
		fake       *fakeUpstream
		server     *httptest.Server
		dispatcher *dispatch.Dispatcher
		call       dispatch.Call
	)

	register := func(ids ...string) {
		for _, id := range ids {
			Expect(st.Put(ctx, account.New(id, "sk-"+id))).To(Succeed())
		}
	}

	build := func(maxRetries int) {
		log := slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		tracker := health.NewTracker(st, health.Policy{FailureThreshold: 3, Cooldown: 5 * time.Minute})
		sel := selector.New(st, tracker, strategy.NewLeastRecentlyUsedStrategy(), log)
		client := upstream.NewClient(server.URL, 2*time.Second)
		dispatcher = dispatch.New(sel, tracker, client, ring, log, maxRetries)
	}

	entries := func() []requestlog.Entry {
		recent, err := ring.Recent(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
		return recent
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemory()
		ring = requestlog.NewRing(100)
		fake = &fakeUpstream{statuses: map[string]int{}, hits: map[string]int{}}
		server = httptest.NewServer(fake)

		call = dispatch.Call{
			RequestID: "req-1",
			Model:     "gpt-4o-mini",
			Request: upstream.Request{
				Method: http.MethodPost,
				Path:   "/chat/completions",
				Body:   []byte(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`),
			},
		}
	})

	AfterEach(func() {
		server.Close()
	})

	It("should serve from the first account when it answers", func() {
		register("a", "b")
		build(3)

		result, err := dispatcher.Dispatch(ctx, call)
		Expect(err).NotTo(HaveOccurred())
		defer result.Response.Body.Close()

		Expect(result.Account.ID).To(Equal("a"))
		Expect(result.Attempts).To(Equal(1))

		body, _ := io.ReadAll(result.Response.Body)
		Expect(string(body)).To(ContainSubstring(`"key":"sk-a"`))

		logged := entries()
		Expect(logged).To(HaveLen(1))
		Expect(logged[0].Outcome).To(Equal(requestlog.OutcomeSuccess))
		Expect(logged[0].RequestID).To(Equal("req-1"))
		Expect(logged[0].Model).To(Equal("gpt-4o-mini"))

		acc, _ := st.Get(ctx, "a")
		Expect(acc.SuccessCount).To(Equal(int64(1)))
	})

	It("should retry on another account after a transient failure", func() {
		register("a", "b")
		fake.set("sk-a", http.StatusServiceUnavailable)
		build(3)

		result, err := dispatcher.Dispatch(ctx, call)
		Expect(err).NotTo(HaveOccurred())
		result.Response.Body.Close()

		Expect(result.Account.ID).To(Equal("b"))
		Expect(result.Attempts).To(Equal(2))

		logged := entries()
		Expect(logged).To(HaveLen(2))
		Expect(logged[1].AccountID).To(Equal("a"))
		Expect(logged[1].Outcome).To(Equal(requestlog.OutcomeTransient))
		Expect(logged[1].StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(logged[0].AccountID).To(Equal("b"))
		Expect(logged[0].Attempt).To(Equal(2))

		a, _ := st.Get(ctx, "a")
		Expect(a.ConsecutiveFailures).To(Equal(1))
		Expect(a.Status).To(Equal(account.StatusActive))
	})

	It("should cool down a lone failing account and then report no available account", func() {
		register("a")
		fake.set("sk-a", http.StatusTooManyRequests)
		build(3)

		for i := 0; i < 3; i++ {
			_, err := dispatcher.Dispatch(ctx, call)
			Expect(errors.Is(err, dispatch.ErrNoAvailableAccount)).To(BeTrue())

			var upErr *upstream.Error
			Expect(errors.As(err, &upErr)).To(BeTrue())
			Expect(upErr.StatusCode).To(Equal(http.StatusTooManyRequests))
		}

		a, _ := st.Get(ctx, "a")
		Expect(a.Status).To(Equal(account.StatusCoolingDown))

		_, err := dispatcher.Dispatch(ctx, call)
		Expect(err).To(Equal(dispatch.ErrNoAvailableAccount))
		Expect(fake.hitsFor("sk-a")).To(Equal(3))

		Expect(entries()[0].Outcome).To(Equal(requestlog.OutcomeNoAccount))
		Expect(entries()[0].AccountID).To(BeEmpty())
	})

	It("should stop using an account after a terminal failure until it is registered again", func() {
		register("a", "b")
		fake.set("sk-a", http.StatusUnauthorized)
		build(3)

		result, err := dispatcher.Dispatch(ctx, call)
		Expect(err).NotTo(HaveOccurred())
		result.Response.Body.Close()
		Expect(result.Account.ID).To(Equal("b"))

		a, _ := st.Get(ctx, "a")
		Expect(a.Status).To(Equal(account.StatusDisabled))

		for i := 0; i < 3; i++ {
			result, err := dispatcher.Dispatch(ctx, call)
			Expect(err).NotTo(HaveOccurred())
			result.Response.Body.Close()
			Expect(result.Account.ID).To(Equal("b"))
		}
		Expect(fake.hitsFor("sk-a")).To(Equal(1))

		Expect(st.Put(ctx, account.New("a", "sk-a-renewed"))).To(Succeed())

		served := map[string]bool{}
		for i := 0; i < 2; i++ {
			result, err := dispatcher.Dispatch(ctx, call)
			Expect(err).NotTo(HaveOccurred())
			result.Response.Body.Close()
			served[result.Account.ID] = true
		}
		Expect(served).To(HaveKey("a"))
	})

	It("should fail with the last upstream error when every attempt fails", func() {
		register("a", "b", "c", "d")
		for _, key := range []string{"sk-a", "sk-b", "sk-c", "sk-d"} {
			fake.set(key, http.StatusBadGateway)
		}
		build(3)

		_, err := dispatcher.Dispatch(ctx, call)

		var allFailed *dispatch.AllAttemptsFailedError
		Expect(errors.As(err, &allFailed)).To(BeTrue())
		Expect(allFailed.Attempts).To(Equal(3))

		var upErr *upstream.Error
		Expect(errors.As(err, &upErr)).To(BeTrue())
		Expect(upErr.StatusCode).To(Equal(http.StatusBadGateway))

		Expect(entries()).To(HaveLen(3))
		Expect(fake.hitsFor("sk-d")).To(Equal(0))
	})

	It("should pass client errors through without blaming the account", func() {
		register("a", "b")
		fake.set("sk-a", http.StatusBadRequest)
		build(3)

		result, err := dispatcher.Dispatch(ctx, call)
		Expect(err).NotTo(HaveOccurred())
		result.Response.Body.Close()

		Expect(result.Response.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(result.Account.ID).To(Equal("a"))
		Expect(entries()[0].Outcome).To(Equal(requestlog.OutcomeClientError))

		a, _ := st.Get(ctx, "a")
		Expect(a.ConsecutiveFailures).To(Equal(0))
	})

	It("should abandon the attempt when the caller goes away", func() {
		register("a", "b")
		fake.block = true
		build(3)

		cancelled, cancel := context.WithCancel(ctx)
		time.AfterFunc(50*time.Millisecond, cancel)

		_, err := dispatcher.Dispatch(cancelled, call)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())

		logged := entries()
		Expect(logged).To(HaveLen(1))
		Expect(logged[0].Outcome).To(Equal(requestlog.OutcomeCancelled))
		Expect(fake.hitsFor("sk-b")).To(Equal(0))

		a, _ := st.Get(ctx, "a")
		Expect(a.ConsecutiveFailures).To(Equal(0))
		Expect(a.ErrorCount).To(Equal(int64(0)))
	})

	It("should write one log entry per attempt under concurrency", func() {
		register("a", "b", "c")
		fake.set("sk-c", http.StatusInternalServerError)
		build(3)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()

				result, err := dispatcher.Dispatch(ctx, call)
				Expect(err).NotTo(HaveOccurred())
				result.Response.Body.Close()
			}()
		}
		wg.Wait()

		total := fake.hitsFor("sk-a") + fake.hitsFor("sk-b") + fake.hitsFor("sk-c")
		Expect(entries()).To(HaveLen(total))
	})
})
