package strategy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/strategy"
)

func accountsNamed(ids ...string) []account.Account {
	accounts := make([]account.Account, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, account.New(id, "sk-"+id))
	}
	return accounts
}

var _ = Describe("Strategies", func() {
	DescribeTable("New",
		func(name string, wantErr bool) {
			strat, err := strategy.New(name)
			if wantErr {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(strat).NotTo(BeNil())
		},
		Entry("least recently used", strategy.LeastRecentlyUsed, false),
		Entry("default", "", false),
		Entry("round robin", strategy.RoundRobin, false),
		Entry("random", strategy.Random, false),
		Entry("least response", strategy.LeastResponse, false),
		Entry("unknown", "consistent-hash", true),
	)

	DescribeTable("every strategy picks one of the candidates",
		func(name string) {
			strat, err := strategy.New(name)
			Expect(err).NotTo(HaveOccurred())

			candidates := accountsNamed("a", "b", "c")
			chosen, ok := strat.SelectAccount(candidates)
			Expect(ok).To(BeTrue())
			Expect(candidates).To(ContainElement(chosen))

			_, ok = strat.SelectAccount(nil)
			Expect(ok).To(BeFalse())
		},
		Entry("least recently used", strategy.LeastRecentlyUsed),
		Entry("round robin", strategy.RoundRobin),
		Entry("random", strategy.Random),
		Entry("least response", strategy.LeastResponse),
	)

	Describe("least recently used", func() {
		var strat strategy.Strategy

		BeforeEach(func() {
			strat = strategy.NewLeastRecentlyUsedStrategy()
		})

		It("should prefer the account idle the longest", func() {
			base := time.Now()
			candidates := accountsNamed("a", "b", "c")
			candidates[0].LastUsed = base
			candidates[1].LastUsed = base.Add(-time.Minute)
			candidates[2].LastUsed = base.Add(-time.Second)

			chosen, _ := strat.SelectAccount(candidates)
			Expect(chosen.ID).To(Equal("b"))
		})

		It("should prefer never-used accounts", func() {
			candidates := accountsNamed("a", "b")
			candidates[0].LastUsed = time.Now()

			chosen, _ := strat.SelectAccount(candidates)
			Expect(chosen.ID).To(Equal("b"))
		})

		It("should break ties by id", func() {
			chosen, _ := strat.SelectAccount(accountsNamed("c", "a", "b"))
			Expect(chosen.ID).To(Equal("a"))
		})
	})

	Describe("round robin", func() {
		It("should cycle through accounts in id order", func() {
			strat := strategy.NewRoundRobinStrategy()
			candidates := accountsNamed("c", "a", "b")

			var picked []string
			for i := 0; i < 4; i++ {
				chosen, _ := strat.SelectAccount(candidates)
				picked = append(picked, chosen.ID)
			}
			Expect(picked).To(Equal([]string{"a", "b", "c", "a"}))
		})

		It("should distribute load evenly", func() {
			strat := strategy.NewRoundRobinStrategy()
			candidates := accountsNamed("a", "b", "c")

			counts := make(map[string]int)
			for i := 0; i < 300; i++ {
				chosen, _ := strat.SelectAccount(candidates)
				counts[chosen.ID]++
			}
			Expect(counts).To(Equal(map[string]int{"a": 100, "b": 100, "c": 100}))
		})
	})

	Describe("least response", func() {
		var strat strategy.Strategy

		BeforeEach(func() {
			strat = strategy.NewLeastResponseStrategy()
		})

		It("should pick the lowest average latency", func() {
			candidates := accountsNamed("a", "b", "c")
			candidates[0].AvgLatency = 300 * time.Millisecond
			candidates[1].AvgLatency = 100 * time.Millisecond
			candidates[2].AvgLatency = 200 * time.Millisecond

			chosen, _ := strat.SelectAccount(candidates)
			Expect(chosen.ID).To(Equal("b"))
		})

		It("should try accounts without samples first", func() {
			candidates := accountsNamed("a", "b", "c")
			candidates[0].AvgLatency = 10 * time.Millisecond
			candidates[2].AvgLatency = 20 * time.Millisecond

			chosen, _ := strat.SelectAccount(candidates)
			Expect(chosen.ID).To(Equal("b"))
		})
	})

	Describe("random", func() {
		It("should eventually reach every candidate", func() {
			strat := strategy.NewRandomStrategy()
			candidates := accountsNamed("a", "b", "c")

			seen := make(map[string]bool)
			for i := 0; i < 500; i++ {
				chosen, _ := strat.SelectAccount(candidates)
				seen[chosen.ID] = true
			}
			Expect(seen).To(HaveLen(3))
		})
	})
})
