package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/ports"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/pkg/ipclass"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/pkg/sanitize"
)

const (
	// MaxCommentLength is the longest narrative the reporting service accepts.
	MaxCommentLength = 1024

	DefaultReportTimeout = 30 * time.Second

	ProjectURL = "https://github.com/sefinek/UFW-AbuseIPDB-Reporter"
)

// DefaultCommentTemplate renders the report narrative. Absent fields
// render as N/A.
const DefaultCommentTemplate = `Blocked by UFW ({{.Protocol}} on {{.DestPort}})
Source port: {{.SourcePort}}
TTL: {{.TTL}}
Packet length: {{.Length}}
TOS: {{.TOS}}

This report (for {{.SourceIP}}) was generated by:
{{.ProjectURL}}`

// commentData is the view of a BlockEvent exposed to the comment template.
type commentData struct {
	Timestamp  string
	SourceIP   string
	DestIP     string
	Protocol   string
	SourcePort string
	DestPort   string
	TTL        string
	Length     string
	TOS        string
	ProjectURL string
}

// ParseCommentTemplate compiles a narrative template and checks it renders
// against a sample event.
func ParseCommentTemplate(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultCommentTemplate
	}
	tmpl, err := template.New("comment").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse comment template: %w", err)
	}
	if err := tmpl.Execute(&bytes.Buffer{}, newCommentData(&domain.BlockEvent{})); err != nil {
		return nil, fmt.Errorf("render comment template: %w", err)
	}
	return tmpl, nil
}

type DispatcherConfig struct {
	Parser          ports.EventParser
	Cache           *ReportCache
	Categorizer     *Categorizer
	Reporter        ports.Reporter
	Filters         []ports.AddressFilter
	CommentTemplate *template.Template
	Timeout         time.Duration
	Now             func() time.Time
}

// Dispatcher runs one log line through parse, filtering, deduplication,
// categorization and reporting.
type Dispatcher struct {
	parser   ports.EventParser
	cache    *ReportCache
	reporter ports.Reporter
	filters  []ports.AddressFilter
	timeout  time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	categorizer *Categorizer
	comment     *template.Template

	observers   []ports.ProcessingObserver
	subscribers []ports.ReportSubscriber
	metrics     ports.MetricsCollector
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Parser == nil {
		return nil, errors.New("dispatcher requires a parser")
	}
	if cfg.Cache == nil {
		return nil, errors.New("dispatcher requires a report cache")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("dispatcher requires a reporter")
	}
	if cfg.Categorizer == nil {
		cfg.Categorizer = NewCategorizer(nil)
	}
	if cfg.CommentTemplate == nil {
		tmpl, err := ParseCommentTemplate(DefaultCommentTemplate)
		if err != nil {
			return nil, err
		}
		cfg.CommentTemplate = tmpl
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReportTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Dispatcher{
		parser:      cfg.Parser,
		cache:       cfg.Cache,
		reporter:    cfg.Reporter,
		filters:     cfg.Filters,
		timeout:     cfg.Timeout,
		now:         cfg.Now,
		categorizer: cfg.Categorizer,
		comment:     cfg.CommentTemplate,
	}, nil
}

func (d *Dispatcher) AddObserver(obs ports.ProcessingObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, obs)
}

func (d *Dispatcher) AddSubscriber(sub ports.ReportSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *Dispatcher) SetMetrics(metrics ports.MetricsCollector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = metrics
}

// SetCategorizer swaps the category table; used by config reload.
func (d *Dispatcher) SetCategorizer(c *Categorizer) {
	if c == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.categorizer = c
}

func (d *Dispatcher) SetCommentTemplate(tmpl *template.Template) {
	if tmpl == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.comment = tmpl
}

// Handle processes one line and returns what happened to it. Filtered
// input is an outcome, not an error.
func (d *Dispatcher) Handle(ctx context.Context, line string) domain.Outcome {
	outcome := d.handle(ctx, line)

	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()
	for _, obs := range observers {
		obs.ObserveOutcome(outcome)
	}
	return outcome
}

// Decision is the side-effect-free verdict for one line. An Outcome of
// OutcomeReported means the line qualifies for a report.
type Decision struct {
	Outcome    domain.Outcome
	Event      *domain.BlockEvent
	Err        error
	Detail     string
	Categories string
	Comment    string
}

// Evaluate runs every check Handle runs without calling the reporter or
// touching the cache.
func (d *Dispatcher) Evaluate(line string, now time.Time) Decision {
	event, err := d.parser.Parse(line)
	if err != nil {
		dec := Decision{Err: err}
		switch {
		case errors.Is(err, domain.ErrNotBlockEvent):
			dec.Outcome = domain.OutcomeIgnored
		case errors.Is(err, domain.ErrMissingSourceIP):
			dec.Outcome = domain.OutcomeMissingSource
		default:
			dec.Outcome = domain.OutcomeInvalidSource
		}
		return dec
	}

	ip := event.IPString()

	if name, restricted := ipclass.Classify(event.SourceIP); restricted {
		return Decision{Outcome: domain.OutcomeLocal, Event: event, Detail: name}
	}

	for _, f := range d.filters {
		if f.Contains(event.SourceIP) {
			return Decision{Outcome: domain.OutcomeAllowlisted, Event: event, Detail: f.Name()}
		}
	}

	if d.cache.IsRecentlyReported(ip, now) {
		last, _ := d.cache.LastReported(ip)
		elapsed := now.Sub(last).Round(time.Second)
		return Decision{Outcome: domain.OutcomeRecent, Event: event, Detail: elapsed.String()}
	}

	d.mu.RLock()
	categorizer := d.categorizer
	tmpl := d.comment
	d.mu.RUnlock()

	categories := categorizer.CategoriesFor(event.Protocol, event.DestPort)
	comment, err := renderComment(tmpl, event)
	if err != nil {
		return Decision{Outcome: domain.OutcomeFailed, Event: event, Err: err, Categories: categories}
	}

	return Decision{Outcome: domain.OutcomeReported, Event: event, Categories: categories, Comment: comment}
}

func (d *Dispatcher) handle(ctx context.Context, line string) domain.Outcome {
	now := d.now()
	dec := d.Evaluate(line, now)

	switch dec.Outcome {
	case domain.OutcomeIgnored:
		log.Debug().Str("line", sanitize.Line(line)).Msg("Ignoring line, not a block event")
		return dec.Outcome
	case domain.OutcomeMissingSource:
		log.Warn().Str("line", sanitize.Line(line)).Msg("Block event without source IP")
		return dec.Outcome
	case domain.OutcomeInvalidSource:
		log.Warn().Err(dec.Err).Str("line", sanitize.Line(line)).Msg("Block event with unparseable source IP")
		return dec.Outcome
	case domain.OutcomeLocal:
		log.Debug().Str("ip", dec.Event.IPString()).Str("range", dec.Detail).Msg("Ignoring local or reserved IP address")
		return dec.Outcome
	case domain.OutcomeAllowlisted:
		log.Debug().Str("ip", dec.Event.IPString()).Str("filter", dec.Detail).Msg("Ignoring allowlisted IP address")
		return dec.Outcome
	case domain.OutcomeRecent:
		ip := dec.Event.IPString()
		log.Info().Str("ip", ip).Str("elapsed", dec.Detail).Msgf("%s was last reported %s ago", ip, dec.Detail)
		return dec.Outcome
	case domain.OutcomeFailed:
		log.Error().Err(dec.Err).Str("ip", dec.Event.IPString()).Msg("Failed to render report comment")
		return dec.Outcome
	}

	event := dec.Event
	ip := event.IPString()
	categories := dec.Categories
	report := domain.Report{IP: event.SourceIP, Categories: categories, Comment: dec.Comment}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	result, err := d.reporter.Report(reqCtx, report)
	elapsed := time.Since(start)
	cancel()

	attempt := &domain.ReportAttempt{
		Timestamp:  now,
		IP:         ip,
		Categories: categories,
		Protocol:   event.Protocol.String(),
		DestPort:   event.DestPort.String(),
		Duration:   elapsed,
	}

	if err != nil {
		attempt.Error = err.Error()
		d.notify(attempt)
		log.Error().
			Err(err).
			Str("ip", ip).
			Str("categories", categories).
			Str("reporter", d.reporter.Name()).
			Msg("Failed to report IP address")
		return domain.OutcomeFailed
	}

	attempt.Success = true
	if result != nil {
		attempt.Score = result.AbuseConfidenceScore
	}
	d.notify(attempt)

	d.cache.MarkReported(ip, now)
	if err := d.cache.Persist(); err != nil {
		log.Error().Err(err).Str("ip", ip).Msg("Failed to persist report cache")
	}

	log.Info().
		Str("ip", ip).
		Str("categories", categories).
		Str("protocol", attempt.Protocol).
		Str("dpt", attempt.DestPort).
		Int("score", attempt.Score).
		Msg("Reported IP address")
	return domain.OutcomeReported
}

func (d *Dispatcher) notify(attempt *domain.ReportAttempt) {
	d.mu.RLock()
	subscribers := d.subscribers
	metrics := d.metrics
	d.mu.RUnlock()

	if metrics != nil {
		metrics.ObserveReportDuration(attempt.Duration.Seconds())
	}
	for _, sub := range subscribers {
		sub.OnReport(attempt)
	}
}

func newCommentData(event *domain.BlockEvent) commentData {
	src := domain.NotAvailable
	if ip := event.IPString(); ip != "" {
		src = ip
	}
	return commentData{
		Timestamp:  event.Timestamp.String(),
		SourceIP:   src,
		DestIP:     event.DestIP.String(),
		Protocol:   event.Protocol.String(),
		SourcePort: event.SourcePort.String(),
		DestPort:   event.DestPort.String(),
		TTL:        event.TTL.String(),
		Length:     event.Length.String(),
		TOS:        event.TOS.String(),
		ProjectURL: ProjectURL,
	}
}

func renderComment(tmpl *template.Template, event *domain.BlockEvent) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newCommentData(event)); err != nil {
		return "", err
	}
	return clipComment(buf.String(), MaxCommentLength), nil
}

// clipComment cuts s to at most maxLen bytes on a rune boundary.
func clipComment(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
