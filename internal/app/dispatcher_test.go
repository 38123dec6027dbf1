package app

import (
	"context"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/adapters/input"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

const sshLine = `2024-01-01T00:00:00 [BLOCK] SRC=203.0.113.5 DST=10.0.0.1 PROTO=TCP DPT=22 SPT=5000 TTL=64 LEN=60`

type dispatcherFixture struct {
	dispatcher *Dispatcher
	reporter   *mockReporter
	store      *memStore
	cache      *ReportCache
	now        time.Time
}

func newDispatcherFixture(t *testing.T, marker string) *dispatcherFixture {
	t.Helper()

	f := &dispatcherFixture{
		reporter: &mockReporter{score: 100},
		store:    newMemStore(nil),
		now:      time.Unix(1704067200, 0),
	}
	f.cache = NewReportCache(f.store, 12*time.Hour)

	d, err := NewDispatcher(DispatcherConfig{
		Parser:   input.NewUFWParser(marker),
		Cache:    f.cache,
		Reporter: f.reporter,
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.dispatcher = d
	return f
}

func TestDispatcherEndToEnd(t *testing.T) {
	f := newDispatcherFixture(t, "[BLOCK]")
	ctx := context.Background()

	outcome := f.dispatcher.Handle(ctx, sshLine)
	assert.Equal(t, domain.OutcomeReported, outcome)

	calls := f.reporter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "203.0.113.5", calls[0].IP.String())
	assert.Equal(t, "14,22,18", calls[0].Categories)

	last, ok := f.cache.LastReported("203.0.113.5")
	require.True(t, ok)
	assert.Equal(t, f.now, last)
	assert.Equal(t, map[string]int64{"203.0.113.5": f.now.Unix()}, f.store.data, "cache persisted")

	// Same event one second later.
	f.now = f.now.Add(time.Second)
	assert.Equal(t, domain.OutcomeRecent, f.dispatcher.Handle(ctx, sshLine))
	assert.Len(t, f.reporter.Calls(), 1)

	// Same event from a private address.
	private := strings.Replace(sshLine, "203.0.113.5", "192.168.1.10", 1)
	assert.Equal(t, domain.OutcomeLocal, f.dispatcher.Handle(ctx, private))
	assert.Len(t, f.reporter.Calls(), 1)
}

func TestDispatcherComment(t *testing.T) {
	f := newDispatcherFixture(t, "")

	line := `[UFW BLOCK] SRC=198.51.100.20 PROTO=TCP DPT=443 SPT=40000 TOS=0x08`
	require.Equal(t, domain.OutcomeReported, f.dispatcher.Handle(context.Background(), line))

	calls := f.reporter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "14,21", calls[0].Categories)
	assert.Equal(t, "Blocked by UFW (TCP on 443)\n"+
		"Source port: 40000\n"+
		"TTL: N/A\n"+
		"Packet length: N/A\n"+
		"TOS: 0x08\n"+
		"\n"+
		"This report (for 198.51.100.20) was generated by:\n"+
		"https://github.com/sefinek/UFW-AbuseIPDB-Reporter", calls[0].Comment)
}

func TestDispatcherRejectionsDoNotReport(t *testing.T) {
	lines := []struct {
		line string
		want domain.Outcome
	}{
		{`2024-01-01T00:00:00 kernel: [UFW ALLOW] SRC=203.0.113.5 DST=10.0.0.1 PROTO=TCP DPT=22`, domain.OutcomeIgnored},
		{`random noise`, domain.OutcomeIgnored},
		{``, domain.OutcomeIgnored},
		{`[UFW BLOCK] DST=10.0.0.1 PROTO=TCP DPT=22`, domain.OutcomeMissingSource},
		{`[UFW BLOCK] SRC=not-an-ip PROTO=TCP DPT=22`, domain.OutcomeInvalidSource},
	}

	f := newDispatcherFixture(t, "")
	for _, tc := range lines {
		assert.Equal(t, tc.want, f.dispatcher.Handle(context.Background(), tc.line), tc.line)
	}

	assert.Empty(t, f.reporter.Calls())
	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, 0, f.store.Saves())
}

func TestDispatcherNeverReportsRestrictedAddresses(t *testing.T) {
	addrs := []string{
		"10.1.2.3", "172.16.0.1", "192.168.1.10", "127.0.0.1", "169.254.10.10",
		"224.0.0.251", "0.0.0.0", "255.255.255.255", "100.64.1.1", "240.0.0.1",
		"198.18.0.1", "::1", "fe80::1", "fc00::1", "ff02::1", "::",
	}

	f := newDispatcherFixture(t, "")
	for _, addr := range addrs {
		line := `[UFW BLOCK] SRC=` + addr + ` PROTO=TCP DPT=22`
		assert.Equal(t, domain.OutcomeLocal, f.dispatcher.Handle(context.Background(), line), addr)
	}
	assert.Empty(t, f.reporter.Calls())
}

func TestDispatcherAllowlist(t *testing.T) {
	f := newDispatcherFixture(t, "")
	f.dispatcher.filters = append(f.dispatcher.filters, prefixFilter{prefix: netip.MustParsePrefix("203.0.113.0/24")})

	line := `[UFW BLOCK] SRC=203.0.113.77 PROTO=TCP DPT=22`
	assert.Equal(t, domain.OutcomeAllowlisted, f.dispatcher.Handle(context.Background(), line))
	assert.Empty(t, f.reporter.Calls())
}

func TestDispatcherFailedReportLeavesCacheUntouched(t *testing.T) {
	f := newDispatcherFixture(t, "[BLOCK]")
	f.reporter.err = errReportRejected

	sub := &recordingSubscriber{}
	obs := &recordingObserver{}
	f.dispatcher.AddSubscriber(sub)
	f.dispatcher.AddObserver(obs)

	assert.Equal(t, domain.OutcomeFailed, f.dispatcher.Handle(context.Background(), sshLine))
	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, 0, f.store.Saves())

	require.Len(t, sub.attempts, 1)
	assert.False(t, sub.attempts[0].Success)
	assert.Equal(t, errReportRejected.Error(), sub.attempts[0].Error)
	assert.Equal(t, []domain.Outcome{domain.OutcomeFailed}, obs.outcomes)

	// A later success is still possible.
	f.reporter.err = nil
	assert.Equal(t, domain.OutcomeReported, f.dispatcher.Handle(context.Background(), sshLine))
	assert.Equal(t, 1, f.cache.Len())
}

func TestDispatcherReportsAgainAfterInterval(t *testing.T) {
	f := newDispatcherFixture(t, "[BLOCK]")
	ctx := context.Background()

	require.Equal(t, domain.OutcomeReported, f.dispatcher.Handle(ctx, sshLine))

	f.now = f.now.Add(12 * time.Hour)
	assert.Equal(t, domain.OutcomeReported, f.dispatcher.Handle(ctx, sshLine))
	assert.Len(t, f.reporter.Calls(), 2)
}

func TestDispatcherSubscribersSeeSuccess(t *testing.T) {
	f := newDispatcherFixture(t, "[BLOCK]")
	sub := &recordingSubscriber{}
	f.dispatcher.AddSubscriber(sub)

	require.Equal(t, domain.OutcomeReported, f.dispatcher.Handle(context.Background(), sshLine))
	require.Len(t, sub.attempts, 1)

	attempt := sub.attempts[0]
	assert.True(t, attempt.Success)
	assert.Equal(t, 100, attempt.Score)
	assert.Equal(t, "203.0.113.5", attempt.IP)
	assert.Equal(t, "TCP", attempt.Protocol)
	assert.Equal(t, "22", attempt.DestPort)
	assert.Equal(t, f.now, attempt.Timestamp)
}

func TestDispatcherCommentIsClipped(t *testing.T) {
	f := newDispatcherFixture(t, "")
	tmpl, err := ParseCommentTemplate(strings.Repeat("é", 600) + " {{.SourceIP}}")
	require.NoError(t, err)
	f.dispatcher.SetCommentTemplate(tmpl)

	require.Equal(t, domain.OutcomeReported, f.dispatcher.Handle(context.Background(), `[UFW BLOCK] SRC=203.0.113.5`))
	comment := f.reporter.Calls()[0].Comment
	assert.LessOrEqual(t, len(comment), MaxCommentLength)
	assert.True(t, strings.HasSuffix(comment, "é"), "clipped on a rune boundary")
}

func TestDispatcherSetCategorizer(t *testing.T) {
	f := newDispatcherFixture(t, "[BLOCK]")
	table, err := ParseCategoryOverrides(map[string]map[string]string{"tcp": {"22": "18"}})
	require.NoError(t, err)
	f.dispatcher.SetCategorizer(NewCategorizer(table))

	require.Equal(t, domain.OutcomeReported, f.dispatcher.Handle(context.Background(), sshLine))
	assert.Equal(t, "18", f.reporter.Calls()[0].Categories)
}

func TestParseCommentTemplateErrors(t *testing.T) {
	_, err := ParseCommentTemplate("{{.Nope}}")
	assert.Error(t, err)

	_, err = ParseCommentTemplate("{{")
	assert.Error(t, err)

	tmpl, err := ParseCommentTemplate("   ")
	require.NoError(t, err)
	assert.Equal(t, "comment", tmpl.Name())
}

func TestNewDispatcherRequiresCollaborators(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{})
	assert.Error(t, err)

	_, err = NewDispatcher(DispatcherConfig{Parser: input.NewUFWParser("")})
	assert.Error(t, err)

	_, err = NewDispatcher(DispatcherConfig{
		Parser: input.NewUFWParser(""),
		Cache:  NewReportCache(newMemStore(nil), time.Hour),
	})
	assert.Error(t, err)
}

func TestDispatcherEvaluateHasNoSideEffects(t *testing.T) {
	f := newDispatcherFixture(t, "[BLOCK]")

	dec := f.dispatcher.Evaluate(sshLine, f.now)
	assert.Equal(t, domain.OutcomeReported, dec.Outcome)
	assert.Equal(t, "14,22,18", dec.Categories)
	assert.Contains(t, dec.Comment, "This report (for 203.0.113.5)")
	assert.Empty(t, f.reporter.Calls())
	assert.Equal(t, 0, f.cache.Len())

	f.cache.MarkReported("203.0.113.5", f.now.Add(-90*time.Second))
	dec = f.dispatcher.Evaluate(sshLine, f.now)
	assert.Equal(t, domain.OutcomeRecent, dec.Outcome)
	assert.Equal(t, "1m30s", dec.Detail)

	dec = f.dispatcher.Evaluate(strings.Replace(sshLine, "203.0.113.5", "10.0.0.9", 1), f.now)
	assert.Equal(t, domain.OutcomeLocal, dec.Outcome)
	assert.Equal(t, "private", dec.Detail)

	dec = f.dispatcher.Evaluate("[BLOCK] DST=10.0.0.1", f.now)
	assert.Equal(t, domain.OutcomeMissingSource, dec.Outcome)
	assert.ErrorIs(t, dec.Err, domain.ErrMissingSourceIP)
}
