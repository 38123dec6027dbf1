package input

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

const DefaultBlockMarker = domain.DefaultBlockMarker

var (
	timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	srcRe       = regexp.MustCompile(`(?:^|\s)SRC=(\S+)`)
	dstRe       = regexp.MustCompile(`(?:^|\s)DST=(\S+)`)
	protoRe     = regexp.MustCompile(`(?:^|\s)PROTO=(\S+)`)
	sptRe       = regexp.MustCompile(`(?:^|\s)SPT=(\d+)`)
	dptRe       = regexp.MustCompile(`(?:^|\s)DPT=(\d+)`)
	ttlRe       = regexp.MustCompile(`(?:^|\s)TTL=(\d+)`)
	lenRe       = regexp.MustCompile(`(?:^|\s)LEN=(\d+)`)
	tosRe       = regexp.MustCompile(`(?:^|\s)TOS=(\S+)`)
)

// UFWParser extracts block events from netfilter/UFW kernel log lines.
// Fields are matched independently so their order in the line is irrelevant.
type UFWParser struct {
	marker string
}

func NewUFWParser(marker string) *UFWParser {
	if marker == "" {
		marker = DefaultBlockMarker
	}
	return &UFWParser{marker: marker}
}

func (p *UFWParser) Parse(line string) (*domain.BlockEvent, error) {
	if len(line) > domain.MaxLineLength {
		line = line[:domain.MaxLineLength]
	}

	if !strings.Contains(line, p.marker) {
		return nil, domain.ErrNotBlockEvent
	}

	src, ok := submatch(srcRe, line)
	if !ok {
		return nil, domain.ErrMissingSourceIP
	}
	addr, err := netip.ParseAddr(src)
	if err != nil {
		return nil, domain.ErrInvalidSourceIP
	}

	event := &domain.BlockEvent{
		SourceIP:   addr,
		Protocol:   stringField(protoRe, line),
		SourcePort: portField(sptRe, line),
		DestPort:   portField(dptRe, line),
		TTL:        stringField(ttlRe, line),
		Length:     stringField(lenRe, line),
		TOS:        stringField(tosRe, line),
		RawLine:    strings.Clone(line),
	}

	if ts := timestampRe.FindString(line); ts != "" {
		event.Timestamp = domain.Some(ts)
	}
	if dst, ok := submatch(dstRe, line); ok {
		if dstAddr, err := netip.ParseAddr(dst); err == nil {
			event.DestIP = domain.Some(dstAddr)
		}
	}

	return event, nil
}

func (p *UFWParser) Format() string {
	return "ufw"
}

func submatch(re *regexp.Regexp, line string) (string, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

func stringField(re *regexp.Regexp, line string) domain.Opt[string] {
	if v, ok := submatch(re, line); ok {
		return domain.Some(v)
	}
	return domain.None[string]()
}

func portField(re *regexp.Regexp, line string) domain.Opt[int] {
	v, ok := submatch(re, line)
	if !ok {
		return domain.None[int]()
	}
	port, err := strconv.Atoi(v)
	if err != nil || port < 0 || port > 65535 {
		return domain.None[int]()
	}
	return domain.Some(port)
}
