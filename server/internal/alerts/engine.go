package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/pagescore/pkg/types"
	"github.com/obsidianstack/pagescore/server/internal/config"
	"github.com/obsidianstack/pagescore/server/internal/metrics"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	URL        string     `json:"url"`
	ReportID   string     `json:"report_id"`
	Severity   string     `json:"severity"`
	Condition  string     `json:"condition"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against incoming reports and delivers webhook
// notifications when rules fire or resolve. Alerts are tracked per rule and
// page URL.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	metrics  *metrics.Metrics
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName|url"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	deliveries sync.WaitGroup
}

// New creates an Engine from the server alert configuration. Every rule
// condition is parsed up front; the first invalid one is returned as an error.
// An Engine with no rules is valid and Evaluate becomes a no-op.
func New(cfg config.AlertsConfig, m *metrics.Metrics) (*Engine, error) {
	e := &Engine{
		webhooks: cfg.Webhooks,
		metrics:  m,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e, nil
}

// Evaluate tests all configured rules against rep.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
// Rules with nothing to compare in rep leave the alert state unchanged.
func (e *Engine) Evaluate(rep *types.Report) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, r := range e.rules {
		fires, value, ok := r.cond.eval(rep)
		if !ok {
			continue
		}
		if a := e.transition(r, rep, fires, value, now); a != nil {
			e.notify(a)
		}
	}
}

// transition applies one rule outcome to the state for rep.URL. It returns a
// copy of the alert when it fired or resolved, nil otherwise.
func (e *Engine) transition(r rule, rep *types.Report, fires bool, value float64, now time.Time) *Alert {
	key := r.Name + "|" + rep.URL

	e.mu.Lock()
	defer e.mu.Unlock()

	if !fires {
		a, ok := e.active[key]
		if !ok {
			return nil
		}
		delete(e.active, key)
		a.State = StateResolved
		a.ResolvedAt = &now
		e.history = append(e.history, a)
		if over := len(e.history) - maxHistoryLen; over > 0 {
			e.history = e.history[over:]
		}
		cp := *a
		return &cp
	}

	if now.Sub(e.lastFire[key]) <= r.Cooldown {
		return nil
	}
	a := &Alert{
		ID:        fmt.Sprintf("%s:%s:%d", r.Name, rep.URL, now.UnixNano()),
		RuleName:  r.Name,
		URL:       rep.URL,
		ReportID:  rep.ID,
		Severity:  r.Severity,
		Condition: r.Condition,
		Value:     value,
		Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
			r.Severity, r.Name, rep.URL, r.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	cp := *a
	return &cp
}

// notify records a and hands it to the webhooks in the background.
func (e *Engine) notify(a *Alert) {
	e.metrics.AlertsFired.WithLabelValues(a.RuleName, a.State).Inc()
	if a.State == StateFiring {
		slog.Warn("alert fired", "rule", a.RuleName, "url", a.URL, "value", a.Value, "severity", a.Severity)
	} else {
		slog.Info("alert resolved", "rule", a.RuleName, "url", a.URL)
	}
	if len(e.webhooks) == 0 {
		return
	}
	e.deliveries.Add(1)
	go func() {
		defer e.deliveries.Done()
		e.deliver(a)
	}()
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// FiringCount returns the number of currently firing alerts.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() { e.deliveries.Wait() }
