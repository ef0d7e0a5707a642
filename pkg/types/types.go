package types

// SchemaVersion is stamped on every event and dead-letter record
const SchemaVersion = 1

// ParseStatus describes how completely an event was parsed
type ParseStatus string

const (
	ParseStatusOK      ParseStatus = "ok"
	ParseStatusPartial ParseStatus = "partial"
)

// Reason classifies why a line was dead-lettered
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonEmptyLine        Reason = "empty_line"
	ReasonNonText          Reason = "non_text_or_binary"
	ReasonSyslogHeader     Reason = "syslog_header_parse_fail"
	ReasonInvalidMonth     Reason = "invalid_month"
	ReasonKVParseException Reason = "kv_parse_exception"
	ReasonActiveTruncated  Reason = "active_truncated_reset_offset"
	ReasonParseFail        Reason = "parse_fail"
)

// Provenance identifies exactly where a line came from
type Provenance struct {
	Path   string  `json:"path"`
	Inode  *uint64 `json:"inode"`
	Offset *int64  `json:"offset"`
	Size   *int64  `json:"size,omitempty"`
	Mtime  *int64  `json:"mtime,omitempty"`
}

// EventSource is the subset of provenance carried on events
type EventSource struct {
	Path   string  `json:"path"`
	Inode  *uint64 `json:"inode"`
	Offset *int64  `json:"offset"`
}

// Source returns the event-facing view of the provenance
func (p Provenance) Source() EventSource {
	return EventSource{Path: p.Path, Inode: p.Inode, Offset: p.Offset}
}

// Event is a parsed firewall log line. Field order is the output order.
type Event struct {
	SchemaVersion int     `json:"schema_version"`
	EventID       string  `json:"event_id"`
	Host          string  `json:"host"`
	EventTS       *string `json:"event_ts"`

	Type    *string `json:"type"`
	Subtype *string `json:"subtype"`
	Level   *string `json:"level"`

	Devname *string `json:"devname"`
	Devid   *string `json:"devid"`
	VD      *string `json:"vd"`

	Action     *string `json:"action"`
	PolicyID   *int64  `json:"policyid"`
	PolicyType *string `json:"policytype"`

	SessionID *int64  `json:"sessionid"`
	Proto     *int64  `json:"proto"`
	Service   *string `json:"service"`

	SrcIP       *string `json:"srcip"`
	SrcPort     *int64  `json:"srcport"`
	SrcIntf     *string `json:"srcintf"`
	SrcIntfRole *string `json:"srcintfrole"`

	DstIP       *string `json:"dstip"`
	DstPort     *int64  `json:"dstport"`
	DstIntf     *string `json:"dstintf"`
	DstIntfRole *string `json:"dstintfrole"`

	SentByte *int64 `json:"sentbyte"`
	RcvdByte *int64 `json:"rcvdbyte"`
	SentPkt  *int64 `json:"sentpkt"`
	RcvdPkt  *int64 `json:"rcvdpkt"`

	BytesTotal *int64 `json:"bytes_total"`
	PktsTotal  *int64 `json:"pkts_total"`

	ParseStatus ParseStatus `json:"parse_status"`

	LogID     *string `json:"logid"`
	EventTime *string `json:"eventtime"`
	TZ        *string `json:"tz"`

	LogDesc *string `json:"logdesc"`
	User    *string `json:"user"`
	UI      *string `json:"ui"`
	Method  *string `json:"method"`
	Status  *string `json:"status"`
	Reason  *string `json:"reason"`
	Msg     *string `json:"msg"`

	TranDisp *string `json:"trandisp"`
	App      *string `json:"app"`
	AppCat   *string `json:"appcat"`
	Duration *int64  `json:"duration"`

	SrcName    *string `json:"srcname"`
	SrcCountry *string `json:"srccountry"`
	DstCountry *string `json:"dstcountry"`

	OSName       *string `json:"osname"`
	SrcSWVersion *string `json:"srcswversion"`

	SrcMAC       *string `json:"srcmac"`
	MasterSrcMAC *string `json:"mastersrcmac"`
	SrcServer    *int64  `json:"srcserver"`

	SrcHWVendor  *string `json:"srchwvendor"`
	DevType      *string `json:"devtype"`
	SrcFamily    *string `json:"srcfamily"`
	SrcHWVersion *string `json:"srchwversion"`
	SrcHWModel   *string `json:"srchwmodel"`

	SrcDeviceKey *string           `json:"src_device_key"`
	KVSubset     map[string]string `json:"kv_subset"`

	// Set at write time
	IngestTS string       `json:"ingest_ts"`
	Source   *EventSource `json:"source"`
}

// DeadLetter is a failed line or a synthetic audit record
type DeadLetter struct {
	SchemaVersion int        `json:"schema_version"`
	IngestTS      string     `json:"ingest_ts"`
	Reason        Reason     `json:"reason"`
	Source        Provenance `json:"source"`
	Raw           string     `json:"raw"`
}
