package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/fwingest/pkg/types"
)

// maxControlChars is how many control characters a line may carry before it
// is treated as binary
const maxControlChars = 5

var syslogHeader = regexp.MustCompile(
	`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`,
)

// SubsetKeys are the key-value pairs carried verbatim in kv_subset
var SubsetKeys = []string{
	// time and identity
	"date", "time", "tz", "eventtime", "logid",
	// classification
	"type", "subtype", "level", "vd", "action", "policyid", "policytype",
	// device
	"devname", "devid",
	// session
	"sessionid", "proto", "service", "srcip", "srcport", "srcintf", "srcintfrole",
	"dstip", "dstport", "dstintf", "dstintfrole", "trandisp", "duration",
	// counters
	"sentbyte", "rcvdbyte", "sentpkt", "rcvdpkt",
	// application
	"app", "appcat",
	// endpoint, geo and identity
	"srcname", "dstcountry", "srccountry", "osname", "srcswversion",
	"srcmac", "mastersrcmac", "srcserver",
	// asset fingerprint
	"srchwvendor", "devtype", "srcfamily", "srchwversion", "srchwmodel",
	// admin and auth events
	"user", "status", "reason", "msg", "logdesc", "ui", "method",
}

// deviceKeyFields are tried in order for src_device_key
var deviceKeyFields = []string{"srcmac", "mastersrcmac", "srcname", "srcip"}

// Parse turns one raw FortiGate syslog line into an event. Exactly one of
// the results is set: a non-nil event, or a non-empty dead-letter reason.
// referenceYear fills in the year missing from the syslog header.
func Parse(raw string, referenceYear int) (*types.Event, types.Reason) {
	line := strings.TrimRight(raw, "\n")
	if line == "" {
		return nil, types.ReasonEmptyLine
	}

	if IsBinary(line) {
		return nil, types.ReasonNonText
	}

	m := syslogHeader.FindStringSubmatch(line)
	if m == nil {
		return nil, types.ReasonSyslogHeader
	}

	month, ok := months[m[1]]
	if !ok {
		return nil, types.ReasonInvalidMonth
	}
	day, _ := strconv.Atoi(m[2])
	h := header{month: month, day: day, clock: m[3]}
	host, body := m[4], m[5]

	kv, ok := safeParseKV(body)
	if !ok {
		return nil, types.ReasonKVParseException
	}

	return buildEvent(raw, host, kv, eventTimestamp(kv, referenceYear, h)), types.ReasonNone
}

func safeParseKV(body string) (kv map[string]string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			kv, ok = nil, false
		}
	}()
	return ParseKV(body), true
}

// IsBinary reports whether a line looks like binary garbage: any NUL, or
// more than maxControlChars characters in 1-8 or 11-31
func IsBinary(line string) bool {
	if strings.IndexByte(line, 0) >= 0 {
		return true
	}
	bad := 0
	for _, r := range line {
		if r < 9 || (r >= 11 && r < 32) {
			bad++
		}
	}
	return bad > maxControlChars
}

// EventID is a stable content hash of the raw line
func EventID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

func buildEvent(raw, host string, kv map[string]string, eventTS *string) *types.Event {
	str := func(k string) *string {
		if v, ok := kv[k]; ok {
			return &v
		}
		return nil
	}
	num := func(k string) *int64 {
		v, ok := kv[k]
		if !ok {
			return nil
		}
		return toInt(v)
	}

	ev := &types.Event{
		SchemaVersion: types.SchemaVersion,
		EventID:       EventID(raw),
		Host:          host,
		EventTS:       eventTS,

		Type:    str("type"),
		Subtype: str("subtype"),
		Level:   str("level"),

		Devname: str("devname"),
		Devid:   str("devid"),
		VD:      str("vd"),

		Action:     str("action"),
		PolicyID:   num("policyid"),
		PolicyType: str("policytype"),

		SessionID: num("sessionid"),
		Proto:     num("proto"),
		Service:   str("service"),

		SrcIP:       str("srcip"),
		SrcPort:     num("srcport"),
		SrcIntf:     str("srcintf"),
		SrcIntfRole: str("srcintfrole"),

		DstIP:       str("dstip"),
		DstPort:     num("dstport"),
		DstIntf:     str("dstintf"),
		DstIntfRole: str("dstintfrole"),

		SentByte: num("sentbyte"),
		RcvdByte: num("rcvdbyte"),
		SentPkt:  num("sentpkt"),
		RcvdPkt:  num("rcvdpkt"),

		ParseStatus: types.ParseStatusOK,

		LogID:     str("logid"),
		EventTime: str("eventtime"),
		TZ:        str("tz"),

		LogDesc: str("logdesc"),
		User:    str("user"),
		UI:      str("ui"),
		Method:  str("method"),
		Status:  str("status"),
		Reason:  str("reason"),
		Msg:     str("msg"),

		TranDisp: str("trandisp"),
		App:      str("app"),
		AppCat:   str("appcat"),
		Duration: num("duration"),

		SrcName:    str("srcname"),
		SrcCountry: str("srccountry"),
		DstCountry: str("dstcountry"),

		OSName:       str("osname"),
		SrcSWVersion: str("srcswversion"),

		SrcMAC:       str("srcmac"),
		MasterSrcMAC: str("mastersrcmac"),
		SrcServer:    num("srcserver"),

		SrcHWVendor:  str("srchwvendor"),
		DevType:      str("devtype"),
		SrcFamily:    str("srcfamily"),
		SrcHWVersion: str("srchwversion"),
		SrcHWModel:   str("srchwmodel"),

		KVSubset: subset(kv),
	}

	ev.BytesTotal = sumPair(ev.SentByte, ev.RcvdByte)
	ev.PktsTotal = sumPair(ev.SentPkt, ev.RcvdPkt)
	ev.SrcDeviceKey = deviceKey(kv)

	if ev.Type == nil || ev.Subtype == nil {
		ev.ParseStatus = types.ParseStatusPartial
	}

	return ev
}

// toInt parses a decimal integer leniently; nil on anything else
func toInt(s string) *int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func sumPair(a, b *int64) *int64 {
	if a == nil && b == nil {
		return nil
	}
	var total int64
	if a != nil {
		total += *a
	}
	if b != nil {
		total += *b
	}
	return &total
}

func deviceKey(kv map[string]string) *string {
	for _, k := range deviceKeyFields {
		if v := kv[k]; v != "" {
			return &v
		}
	}
	return nil
}

func subset(kv map[string]string) map[string]string {
	out := make(map[string]string)
	for _, k := range SubsetKeys {
		if v, ok := kv[k]; ok {
			out[k] = v
		}
	}
	return out
}
