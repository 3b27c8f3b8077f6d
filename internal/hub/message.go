package hub

import "encoding/json"

// Downstream message types understood by the front-end.
const (
	TypeCardReaderConnected = "cardReaderConnected"
	TypeTCPData             = "tcpData"
)

// Message is an encoded downstream message. Type is carried separately so
// transports that name their events (SSE) do not have to decode Payload.
type Message struct {
	Type    string
	Payload []byte
}

// StatusMessage reports whether the card reader link is up.
type StatusMessage struct {
	Type     string `json:"type"`
	IsOnline bool   `json:"isOnline"`
}

// ScanMessage carries one accepted card UID.
type ScanMessage struct {
	Type string `json:"type"`
	UID  string `json:"uid"`
}

// NewStatusMessage encodes a cardReaderConnected message.
func NewStatusMessage(online bool) Message {
	payload, _ := json.Marshal(StatusMessage{Type: TypeCardReaderConnected, IsOnline: online})
	return Message{Type: TypeCardReaderConnected, Payload: payload}
}

// NewScanMessage encodes a tcpData message.
func NewScanMessage(uid string) Message {
	payload, _ := json.Marshal(ScanMessage{Type: TypeTCPData, UID: uid})
	return Message{Type: TypeTCPData, Payload: payload}
}
