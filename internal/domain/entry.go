package domain

// LogEntry is a DNS server log record after parsing and enrichment.
//
// Layout of the source line:
//
//	11/17/2021 6:00:00 AM 0D0C PACKET 00000272D98DD0B0 UDP Rcv 192.168.13.130 0002 Q [0001 D NOERROR] A (8)woshub(2)com(0)
type LogEntry struct {
	ID              string `json:"id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	ThreadID        string `json:"thread_id"`
	Context         string `json:"context"`
	PacketID        string `json:"internal_packet_id"`
	Protocol        string `json:"protocol"`
	Direction       string `json:"direction"`
	RemoteIP        string `json:"remote_ip"`
	XID             string `json:"xid"`
	QueryResponse   string `json:"query_response"`
	Opcode          string `json:"opcode"`
	Flags           string `json:"flags"`
	ResponseCode    string `json:"response_code"`
	QuestionType    string `json:"question_type"`
	QuestionEncoded string `json:"question_encoded"`
	QuestionName    string `json:"question_name"`

	// Enrichment, empty when the lookup failed
	Hostname   string `json:"hostname,omitempty"`
	LocalIP    string `json:"local_ip,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`

	// Origin of the line
	Source string `json:"source,omitempty"`
	Line   int64  `json:"line"`
}

// Enrichment holds best-effort network metadata for a remote address.
type Enrichment struct {
	Hostname   string
	LocalIP    string
	MACAddress string
}

// Apply copies enrichment fields onto the entry.
func (e *LogEntry) Apply(en Enrichment) {
	e.Hostname = en.Hostname
	e.LocalIP = en.LocalIP
	e.MACAddress = en.MACAddress
}
