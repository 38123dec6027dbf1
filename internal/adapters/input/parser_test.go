package input

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

const ufwLine = `2024-11-02T13:45:10.123456+01:00 server kernel: [UFW BLOCK] IN=eth0 OUT= MAC=00:16:3e:aa:bb:cc SRC=203.0.113.5 DST=198.51.100.7 LEN=60 TOS=0x00 PREC=0x00 TTL=49 ID=54321 DF PROTO=TCP SPT=51234 DPT=22 WINDOW=64240 RES=0x00 SYN URGP=0`

func TestUFWParser(t *testing.T) {
	parser := NewUFWParser("")

	tests := []struct {
		name      string
		line      string
		wantErr   error
		wantIP    string
		wantProto string
		wantDPT   string
		wantSPT   string
		wantTTL   string
		wantLen   string
		wantTOS   string
		wantTS    string
		wantDst   string
	}{
		{
			name:      "full ufw line",
			line:      ufwLine,
			wantIP:    "203.0.113.5",
			wantProto: "TCP",
			wantDPT:   "22",
			wantSPT:   "51234",
			wantTTL:   "49",
			wantLen:   "60",
			wantTOS:   "0x00",
			wantTS:    "2024-11-02T13:45:10.123456+01:00",
			wantDst:   "198.51.100.7",
		},
		{
			name:      "syslog timestamp is absent",
			line:      `Nov  2 13:45:10 server kernel: [12345.678] [UFW BLOCK] IN=eth0 SRC=45.33.32.156 DST=10.0.0.2 PROTO=UDP SPT=40000 DPT=123 LEN=76`,
			wantIP:    "45.33.32.156",
			wantProto: "UDP",
			wantDPT:   "123",
			wantSPT:   "40000",
			wantTTL:   domain.NotAvailable,
			wantLen:   "76",
			wantTOS:   domain.NotAvailable,
			wantTS:    domain.NotAvailable,
			wantDst:   "10.0.0.2",
		},
		{
			name:      "fields in any order",
			line:      `2024-01-01T00:00:00 [UFW BLOCK] DPT=443 PROTO=TCP SRC=198.51.100.20`,
			wantIP:    "198.51.100.20",
			wantProto: "TCP",
			wantDPT:   "443",
			wantSPT:   domain.NotAvailable,
			wantTTL:   domain.NotAvailable,
			wantLen:   domain.NotAvailable,
			wantTOS:   domain.NotAvailable,
			wantTS:    "2024-01-01T00:00:00",
			wantDst:   domain.NotAvailable,
		},
		{
			name:      "ipv6 source",
			line:      `[UFW BLOCK] IN=eth0 SRC=2001:db8::dead:beef DST=2001:db8::1 LEN=80 TC=0 HOPLIMIT=52 PROTO=TCP SPT=4444 DPT=3389`,
			wantIP:    "2001:db8::dead:beef",
			wantProto: "TCP",
			wantDPT:   "3389",
			wantSPT:   "4444",
			wantTTL:   domain.NotAvailable,
			wantLen:   "80",
			wantTOS:   domain.NotAvailable,
			wantTS:    domain.NotAvailable,
			wantDst:   "2001:db8::1",
		},
		{
			name:    "not a block event",
			line:    `2024-01-01T00:00:00 server kernel: [UFW ALLOW] SRC=203.0.113.5 DST=10.0.0.1`,
			wantErr: domain.ErrNotBlockEvent,
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: domain.ErrNotBlockEvent,
		},
		{
			name:    "missing source",
			line:    `2024-01-01T00:00:00 [UFW BLOCK] DST=10.0.0.1 PROTO=TCP DPT=22`,
			wantErr: domain.ErrMissingSourceIP,
		},
		{
			name:    "MACSRC does not count as SRC",
			line:    `[UFW BLOCK] MACSRC=00:11:22:33:44:55 DST=10.0.0.1`,
			wantErr: domain.ErrMissingSourceIP,
		},
		{
			name:    "invalid source",
			line:    `[UFW BLOCK] SRC=999.1.1.1 DST=10.0.0.1`,
			wantErr: domain.ErrInvalidSourceIP,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event, err := parser.Parse(tc.line)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, event)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, event)

			assert.Equal(t, tc.wantIP, event.IPString())
			assert.Equal(t, tc.wantProto, event.Protocol.String())
			assert.Equal(t, tc.wantDPT, event.DestPort.String())
			assert.Equal(t, tc.wantSPT, event.SourcePort.String())
			assert.Equal(t, tc.wantTTL, event.TTL.String())
			assert.Equal(t, tc.wantLen, event.Length.String())
			assert.Equal(t, tc.wantTOS, event.TOS.String())
			assert.Equal(t, tc.wantTS, event.Timestamp.String())
			assert.Equal(t, tc.wantDst, event.DestIP.String())
			assert.Equal(t, tc.line, event.RawLine)
		})
	}
}

func TestUFWParserCustomMarker(t *testing.T) {
	parser := NewUFWParser("[BLOCK]")

	event, err := parser.Parse(`2024-01-01T00:00:00 [BLOCK] SRC=203.0.113.5 DST=10.0.0.1 PROTO=TCP DPT=22 SPT=5000 TTL=64 LEN=60`)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", event.IPString())

	_, err = parser.Parse(ufwLine)
	assert.ErrorIs(t, err, domain.ErrNotBlockEvent, "[UFW BLOCK] does not contain the [BLOCK] substring")

	_, err = NewUFWParser("").Parse(`2024-01-01T00:00:00 [BLOCK] SRC=203.0.113.5`)
	assert.ErrorIs(t, err, domain.ErrNotBlockEvent)
}

func TestUFWParserPortOutOfRange(t *testing.T) {
	parser := NewUFWParser("")

	event, err := parser.Parse(`[UFW BLOCK] SRC=203.0.113.5 PROTO=TCP DPT=99999 SPT=1`)
	require.NoError(t, err)

	_, ok := event.DestPort.Get()
	assert.False(t, ok)
	port, ok := event.SourcePort.Get()
	assert.True(t, ok)
	assert.Equal(t, 1, port)
}

func TestUFWParserClipsOversizedLines(t *testing.T) {
	parser := NewUFWParser("")
	line := `[UFW BLOCK] SRC=203.0.113.5 ` + strings.Repeat("A", domain.MaxLineLength*2)

	event, err := parser.Parse(line)
	require.NoError(t, err)
	assert.Len(t, event.RawLine, domain.MaxLineLength)
}

func TestUFWParserFormat(t *testing.T) {
	assert.Equal(t, "ufw", NewUFWParser("").Format())
}

func BenchmarkUFWParser(b *testing.B) {
	parser := NewUFWParser("")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = parser.Parse(ufwLine)
	}
}

func BenchmarkUFWParserParallel(b *testing.B) {
	parser := NewUFWParser("")

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = parser.Parse(ufwLine)
		}
	})
}
