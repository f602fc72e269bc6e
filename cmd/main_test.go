package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/poolgate/config"
	"github.com/angeloszaimis/poolgate/internal/account"
)

func loadTestConfig(content string) *config.Config {
	if port, ok := os.LookupEnv("PORT"); ok {
		Expect(os.Unsetenv("PORT")).To(Succeed())
		DeferCleanup(os.Setenv, "PORT", port)
	}

	path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

	cfg, err := config.Load(path)
	Expect(err).NotTo(HaveOccurred())
	return cfg
}

var _ = Describe("loadEnvFile", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, ".env"), []byte("POOLGATE_TEST_VALUE=from-env-file\n"), 0o644)).To(Succeed())

		wd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.Chdir, wd)
		DeferCleanup(os.Unsetenv, "POOLGATE_TEST_VALUE")
	})

	It("should load .env from the working directory", func() {
		Expect(os.Chdir(dir)).To(Succeed())

		loadEnvFile()

		Expect(os.Getenv("POOLGATE_TEST_VALUE")).To(Equal("from-env-file"))
	})

	It("should find .env in a parent directory", func() {
		nested := filepath.Join(dir, "a", "b")
		Expect(os.MkdirAll(nested, 0o755)).To(Succeed())
		Expect(os.Chdir(nested)).To(Succeed())

		loadEnvFile()

		Expect(os.Getenv("POOLGATE_TEST_VALUE")).To(Equal("from-env-file"))
	})

	It("should not override variables already set", func() {
		Expect(os.Setenv("POOLGATE_TEST_VALUE", "from-shell")).To(Succeed())
		Expect(os.Chdir(dir)).To(Succeed())

		loadEnvFile()

		Expect(os.Getenv("POOLGATE_TEST_VALUE")).To(Equal("from-shell"))
	})
})

var _ = Describe("app", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		upstream *httptest.Server
		a        *app
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)

		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.Header.Get("Authorization") == "Bearer sk-broken-000000" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion"}`))
		}))
		DeferCleanup(upstream.Close)

		cfg := loadTestConfig(`
store:
  driver: memory
upstream:
  base_url: ` + upstream.URL + `
request_log:
  sqlite_path: ` + filepath.Join(GinkgoT().TempDir(), "requests.db") + `
`)

		var err error
		a, err = newApp(cfg, slog.New(slog.NewTextHandler(GinkgoWriter, nil)))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(a.Close)

		a.collector.Start(ctx)

		Expect(a.store.Put(ctx, account.New("broken@example.com", "sk-broken-000000"))).To(Succeed())
		Expect(a.store.Put(ctx, account.New("good@example.com", "sk-good-0000000"))).To(Succeed())
	})

	It("should route a request past a rejected account and record it", func() {
		router := a.router()

		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
			strings.NewReader(`{"messages":[{"role":"user","content":"Hi"}]}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("X-Pool-Account")).To(Equal("good@example.com"))

		broken, err := a.store.Get(ctx, "broken@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(broken.Status).To(Equal(account.StatusDisabled))

		entries, err := a.logs.Recent(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].AccountID).To(Equal("good@example.com"))
	})

	It("should expose Prometheus metrics", func() {
		router := a.router()

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
			strings.NewReader(`{"messages":[{"role":"user","content":"Hi"}]}`)))

		Eventually(func() string {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			return w.Body.String()
		}).WithTimeout(2 * time.Second).Should(ContainSubstring(`poolgate_requests_total{result="success"} 1`))
	})

	It("should serve the admin API", func() {
		w := httptest.NewRecorder()
		a.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("good@example.com"))
	})

	It("should probe every account once", func() {
		summary, err := a.prober.CheckAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Checked).To(Equal(2))
		Expect(summary.Failed).To(Equal(1))

		var out bytes.Buffer
		writeSummary(&out, summary)
		Expect(out.String()).To(ContainSubstring("Checked 2 accounts: 1 healthy, 1 failed"))
	})
})

var _ = Describe("serve", func() {
	It("should stop cleanly when the context ends", func() {
		cfg := loadTestConfig(`
server:
  address: "127.0.0.1:0"
store:
  driver: memory
health_check:
  enabled: true
  interval: 1h
`)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(GinkgoWriter, nil)))
		}()

		time.Sleep(100 * time.Millisecond)
		cancel()

		Eventually(done).WithTimeout(10 * time.Second).Should(Receive(BeNil()))
	})
})

var _ = Describe("account output", func() {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	accounts := func() []account.Account {
		active := account.New("a@example.com", "sk-aaaa-1111")
		active.TotalRequests = 4
		active.SuccessCount = 3

		disabled := account.New("b@example.com", "sk-bbbb-2222")
		disabled.Status = account.StatusDisabled
		disabled.DisabledReason = "banned"

		return []account.Account{active, disabled}
	}

	It("should print a table with masked keys", func() {
		var out bytes.Buffer
		Expect(writeAccounts(&out, outputTable, accounts(), now)).To(Succeed())

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		Expect(lines).To(HaveLen(3))
		Expect(lines[0]).To(HavePrefix("ID"))
		Expect(lines[1]).To(ContainSubstring("75.0%"))
		Expect(out.String()).To(ContainSubstring("sk-a****1111"))
		Expect(out.String()).NotTo(ContainSubstring("sk-aaaa-1111"))
	})

	It("should print JSON", func() {
		var out bytes.Buffer
		Expect(writeAccounts(&out, outputJSON, accounts(), now)).To(Succeed())

		var rows []accountRow
		Expect(json.Unmarshal(out.Bytes(), &rows)).To(Succeed())
		Expect(rows).To(HaveLen(2))
		Expect(rows[1].Condition).To(Equal("DISABLED"))
		Expect(rows[1].DisabledReason).To(Equal("banned"))
	})

	It("should print YAML", func() {
		var out bytes.Buffer
		Expect(writeAccounts(&out, outputYAML, accounts(), now)).To(Succeed())

		var rows []accountRow
		Expect(yaml.Unmarshal(out.Bytes(), &rows)).To(Succeed())
		Expect(rows[0].ID).To(Equal("a@example.com"))
		Expect(rows[0].Status).To(Equal("active"))
	})

	It("should reject an unknown format", func() {
		Expect(writeAccounts(&bytes.Buffer{}, "xml", accounts(), now)).To(HaveOccurred())
	})

	It("should filter by status", func() {
		filtered, err := filterByStatus(accounts(), "disabled")
		Expect(err).NotTo(HaveOccurred())
		Expect(filtered).To(HaveLen(1))
		Expect(filtered[0].ID).To(Equal("b@example.com"))

		_, err = filterByStatus(accounts(), "sleepy")
		Expect(err).To(HaveOccurred())
	})

	It("should summarize the pool", func() {
		var out bytes.Buffer
		writeStats(&out, account.Summarize(accounts(), now))

		Expect(out.String()).To(ContainSubstring("Total accounts:"))
		Expect(out.String()).To(MatchRegexp(`Disabled:\s+1`))
	})
})
