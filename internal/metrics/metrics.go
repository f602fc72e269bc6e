package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      int64
	results       map[string]int64
	selections    map[string]int64
	attempts      map[string]int64
	outcomes      map[string]map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	conditions    map[string]string
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Results       map[string]int64          `json:"results"`
	Uptime        time.Duration             `json:"uptime"`
	Accounts      map[string]AccountMetrics `json:"accounts"`
	Strategy      string                    `json:"strategy"`
}

type AccountMetrics struct {
	Selections  int64            `json:"selections"`
	Attempts    int64            `json:"attempts"`
	Outcomes    map[string]int64 `json:"outcomes"`
	Condition   string           `json:"condition,omitempty"`
	AvgResponse time.Duration    `json:"avg_response"`
	P50Response time.Duration    `json:"p50_response"`
	P95Response time.Duration    `json:"p95_response"`
	P99Response time.Duration    `json:"p99_response"`
	StatusCodes map[int]int64    `json:"status_codes"`
}

func (m *Metrics) IncrementRequests() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests++
}

func (m *Metrics) RecordRequestResult(result string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.results[result]++
}

func (m *Metrics) RecordSelection(account string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[account]++
}

// RecordAttempt counts one upstream attempt. Attempts without an account
// (pool exhausted) only count toward the outcome totals.
func (m *Metrics) RecordAttempt(account, outcome string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if account == "" {
		return
	}

	m.attempts[account]++

	if m.outcomes[account] == nil {
		m.outcomes[account] = make(map[string]int64)
	}
	m.outcomes[account][outcome]++

	if duration > 0 {
		m.responseTimes[account] = append(m.responseTimes[account], duration)
		if len(m.responseTimes[account]) > maxSamples {
			m.responseTimes[account] = m.responseTimes[account][1:]
		}
	}

	if statusCode > 0 {
		if m.statusCodes[account] == nil {
			m.statusCodes[account] = make(map[int]int64)
		}
		m.statusCodes[account][statusCode]++
	}
}

func (m *Metrics) UpdateCondition(account, condition string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.conditions[account] = condition
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests: m.requests,
		Results:       make(map[string]int64, len(m.results)),
		Uptime:        time.Since(m.startTime),
		Accounts:      make(map[string]AccountMetrics),
		Strategy:      strategy,
	}
	for k, v := range m.results {
		snap.Results[k] = v
	}

	allAccounts := make(map[string]bool)
	for account := range m.selections {
		allAccounts[account] = true
	}
	for account := range m.attempts {
		allAccounts[account] = true
	}
	for account := range m.conditions {
		allAccounts[account] = true
	}

	for account := range allAccounts {
		am := AccountMetrics{
			Selections:  m.selections[account],
			Attempts:    m.attempts[account],
			Outcomes:    copyCounts(m.outcomes[account]),
			Condition:   m.conditions[account],
			StatusCodes: make(map[int]int64, len(m.statusCodes[account])),
		}
		for code, n := range m.statusCodes[account] {
			am.StatusCodes[code] = n
		}

		durations := m.responseTimes[account]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			am.AvgResponse = average(sorted)
			am.P50Response = percentile(sorted, 0.50)
			am.P95Response = percentile(sorted, 0.95)
			am.P99Response = percentile(sorted, 0.99)
		}

		snap.Accounts[account] = am
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		results:       make(map[string]int64),
		selections:    make(map[string]int64),
		attempts:      make(map[string]int64),
		outcomes:      make(map[string]map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		conditions:    make(map[string]string),
		startTime:     time.Now(),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
