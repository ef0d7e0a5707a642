package parser

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/therealutkarshpriyadarshi/fwingest/pkg/types"
)

const trafficLine = `Jan 15 10:23:45 fw01 date=2024-01-15 time=10:23:45 tz="+0800" type=traffic subtype=forward level=notice srcip=10.0.0.5 dstip=8.8.8.8 sentbyte=120 rcvdbyte=340`

func strVal(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestParseTrafficLine(t *testing.T) {
	ev, reason := Parse(trafficLine+"\n", 2024)
	if reason != types.ReasonNone {
		t.Fatalf("unexpected reason %q", reason)
	}
	if ev == nil {
		t.Fatal("expected event")
	}

	if got := strVal(ev.EventTS); got != "2024-01-15T10:23:45+08:00" {
		t.Errorf("event_ts = %s, want 2024-01-15T10:23:45+08:00", got)
	}
	if ev.BytesTotal == nil || *ev.BytesTotal != 460 {
		t.Errorf("bytes_total = %v, want 460", ev.BytesTotal)
	}
	if ev.PktsTotal != nil {
		t.Errorf("pkts_total = %d, want nil", *ev.PktsTotal)
	}
	if ev.ParseStatus != types.ParseStatusOK {
		t.Errorf("parse_status = %s, want ok", ev.ParseStatus)
	}
	if ev.Host != "fw01" {
		t.Errorf("host = %s, want fw01", ev.Host)
	}
	if strVal(ev.TZ) != "+0800" {
		t.Errorf("tz = %s, want +0800", strVal(ev.TZ))
	}
	if strVal(ev.SrcDeviceKey) != "10.0.0.5" {
		t.Errorf("src_device_key = %s, want 10.0.0.5", strVal(ev.SrcDeviceKey))
	}
	if ev.SchemaVersion != types.SchemaVersion {
		t.Errorf("schema_version = %d", ev.SchemaVersion)
	}
	if ev.KVSubset["dstip"] != "8.8.8.8" || ev.KVSubset["sentbyte"] != "120" {
		t.Errorf("kv_subset missing expected keys: %v", ev.KVSubset)
	}
}

func TestParseDeadLetterReasons(t *testing.T) {
	tests := []struct {
		name string
		line string
		want types.Reason
	}{
		{"empty string", "", types.ReasonEmptyLine},
		{"only newline", "\n", types.ReasonEmptyLine},
		{"nul byte", "Jan 15 10:23:45 fw01 type=x\x00", types.ReasonNonText},
		{"control chars", "Jan 15 10:23:45 fw01 \x01\x02\x03\x04\x05\x06 type=x", types.ReasonNonText},
		{"no header no kv", "hello world", types.ReasonSyslogHeader},
		{"header without body", "Jan 15 10:23:45 fw01", types.ReasonSyslogHeader},
		{"lowercase month", "jan 15 10:23:45 fw01 type=x", types.ReasonSyslogHeader},
		{"unknown month", "Foo 15 10:23:45 fw01 type=x", types.ReasonInvalidMonth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, reason := Parse(tt.line, 2024)
			if ev != nil {
				t.Fatalf("expected no event, got %+v", ev)
			}
			if reason != tt.want {
				t.Errorf("reason = %q, want %q", reason, tt.want)
			}
		})
	}
}

func TestParseFiveControlCharsIsText(t *testing.T) {
	ev, reason := Parse("Jan 15 10:23:45 fw01 \x01\x02\x03\x04\x05 type=x subtype=y", 2024)
	if reason != types.ReasonNone || ev == nil {
		t.Fatalf("expected event, got reason %q", reason)
	}
}

func TestParsePartialStatus(t *testing.T) {
	ev, reason := Parse("Jan 15 10:23:45 fw01 type=traffic srcip=10.0.0.1", 2024)
	if reason != types.ReasonNone {
		t.Fatalf("unexpected reason %q", reason)
	}
	if ev.ParseStatus != types.ParseStatusPartial {
		t.Errorf("parse_status = %s, want partial", ev.ParseStatus)
	}

	ev, _ = Parse("Jan 15 10:23:45 fw01 subtype=forward", 2024)
	if ev.ParseStatus != types.ParseStatusPartial {
		t.Errorf("parse_status = %s, want partial", ev.ParseStatus)
	}
}

func TestParseEventTimestampFallback(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "header with reference year",
			line: "Mar  3 08:00:01 fw01 type=event subtype=system",
			want: "2023-03-03T08:00:01",
		},
		{
			name: "header with tz",
			line: "Mar  3 08:00:01 fw01 type=event subtype=system tz=-0530",
			want: "2023-03-03T08:00:01-05:30",
		},
		{
			name: "invalid body date falls back to header",
			line: "Mar  3 08:00:01 fw01 date=2023-13-40 time=01:02:03",
			want: "2023-03-03T08:00:01",
		},
		{
			name: "body date without time falls back to header",
			line: "Mar  3 08:00:01 fw01 date=2023-06-01",
			want: "2023-03-03T08:00:01",
		},
		{
			name: "body date wins over header",
			line: "Mar  3 08:00:01 fw01 date=2022-12-31 time=23:59:59 tz=+0000",
			want: "2022-12-31T23:59:59+00:00",
		},
		{
			name: "unrecognized tz is ignored",
			line: "Mar  3 08:00:01 fw01 date=2022-12-31 time=23:59:59 tz=UTC",
			want: "2022-12-31T23:59:59",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, reason := Parse(tt.line, 2023)
			if reason != types.ReasonNone {
				t.Fatalf("unexpected reason %q", reason)
			}
			if got := strVal(ev.EventTS); got != tt.want {
				t.Errorf("event_ts = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseEventTimestampNull(t *testing.T) {
	// Feb 30 does not exist and there is no body date
	ev, reason := Parse("Feb 30 08:00:01 fw01 type=event subtype=system", 2023)
	if reason != types.ReasonNone {
		t.Fatalf("unexpected reason %q", reason)
	}
	if ev.EventTS != nil {
		t.Errorf("event_ts = %s, want nil", *ev.EventTS)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"event_ts":null`) {
		t.Errorf("expected null event_ts in %s", data)
	}
}

func TestParseNumericFields(t *testing.T) {
	ev, _ := Parse(`Jan 15 10:23:45 fw01 type=traffic subtype=forward policyid=abc srcport="443" dstport=53 sentpkt=3 duration=-1`, 2024)

	if ev.PolicyID != nil {
		t.Errorf("policyid = %d, want nil", *ev.PolicyID)
	}
	if ev.SrcPort == nil || *ev.SrcPort != 443 {
		t.Errorf("srcport = %v, want 443", ev.SrcPort)
	}
	if ev.DstPort == nil || *ev.DstPort != 53 {
		t.Errorf("dstport = %v, want 53", ev.DstPort)
	}
	if ev.PktsTotal == nil || *ev.PktsTotal != 3 {
		t.Errorf("pkts_total = %v, want 3", ev.PktsTotal)
	}
	if ev.Duration == nil || *ev.Duration != -1 {
		t.Errorf("duration = %v, want -1", ev.Duration)
	}
	if ev.SessionID != nil {
		t.Errorf("sessionid = %d, want nil", *ev.SessionID)
	}
}

func TestParseDeviceKeyOrder(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"mac first", "srcmac=aa:bb mastersrcmac=cc:dd srcname=pc srcip=1.1.1.1", "aa:bb"},
		{"empty mac skipped", "srcmac= mastersrcmac=cc:dd srcip=1.1.1.1", "cc:dd"},
		{"name before ip", `srcname="office pc" srcip=1.1.1.1`, "office pc"},
		{"ip last", "srcip=1.1.1.1", "1.1.1.1"},
		{"none", "type=x", "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, _ := Parse("Jan 15 10:23:45 fw01 "+tt.body, 2024)
			if got := strVal(ev.SrcDeviceKey); got != tt.want {
				t.Errorf("src_device_key = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseKVSubsetIsAllowListed(t *testing.T) {
	ev, _ := Parse("Jan 15 10:23:45 fw01 type=traffic subtype=forward vendorfield=zzz app=HTTPS", 2024)
	if _, ok := ev.KVSubset["vendorfield"]; ok {
		t.Error("kv_subset should not carry keys outside the allow-list")
	}
	if ev.KVSubset["app"] != "HTTPS" {
		t.Errorf("kv_subset[app] = %q, want HTTPS", ev.KVSubset["app"])
	}
}

func TestEventIDDeterministic(t *testing.T) {
	a, _ := Parse(trafficLine, 2024)
	b, _ := Parse(trafficLine, 1999)
	if a.EventID != b.EventID {
		t.Errorf("event_id differs for identical lines: %s vs %s", a.EventID, b.EventID)
	}
	if len(a.EventID) != 32 {
		t.Errorf("event_id length = %d, want 32", len(a.EventID))
	}

	c, _ := Parse(trafficLine+" extra=1", 2024)
	if a.EventID == c.EventID {
		t.Error("different lines should produce different ids")
	}
	if EventID("x") != EventID("x") {
		t.Error("EventID should be a pure function")
	}
}

func TestParseIsTotal(t *testing.T) {
	inputs := []string{
		"",
		"\n\n",
		" ",
		"=",
		"Jan 1 00:00:00 h =",
		"Jan 1 00:00:00 h a=\"unterminated",
		"Jan 1 00:00:00 h a=\"trailing backslash\\",
		"Dec 31 99:99:99 h type=x",
		"Jan 99 10:00:00 h type=x",
		"Jan 15 10:23:45 fw01 tz=+9999 date=2024-01-01 time=00:00:00",
		"\xff\xfe\xfd",
		strings.Repeat("a=b ", 1000),
		"Jan 15 10:23:45 fw01 " + strings.Repeat("k", 10000) + "=v",
	}

	for _, in := range inputs {
		ev, reason := Parse(in, 2024)
		if (ev == nil) == (reason == types.ReasonNone) {
			t.Errorf("Parse(%q) must return exactly one of event or reason, got event=%v reason=%q", in, ev != nil, reason)
		}
	}
}

func TestNormalizeTZ(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"+0800", "+08:00", true},
		{"-0530", "-05:30", true},
		{`"+0100"`, "+01:00", true},
		{"0800", "", false},
		{"+08:00", "", false},
		{"UTC", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeTZ(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeTZ(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

// BenchmarkParse benchmarks parsing a traffic line
func BenchmarkParse(b *testing.B) {
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ev, reason := Parse(trafficLine, 2024)
		if ev == nil {
			b.Fatalf("unexpected reason %s", reason)
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
}

// BenchmarkParseKV benchmarks the key=value tokenizer alone
func BenchmarkParseKV(b *testing.B) {
	body := trafficLine[strings.Index(trafficLine, "date="):]

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if kv := ParseKV(body); len(kv) == 0 {
			b.Fatal("no pairs parsed")
		}
	}
}
