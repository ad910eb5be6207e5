// Package protocol defines the wire envelope and admin frames shared by the
// coordinator and participant nodes. Every protocol message except the four
// admin frames is JSON; admin frames are plain `|`-delimited lines parsed
// before any JSON decoding happens.
package protocol

import (
	"errors"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// MessageTag identifies the kind of a protocol Message.
type MessageTag string

const (
	CanCommit         MessageTag = "CANCOMMIT"
	CanCommitVoteYes  MessageTag = "CANCOMMIT_VOTE_YES"
	CanCommitVoteNo   MessageTag = "CANCOMMIT_VOTE_NO"
	CanCommitAbort    MessageTag = "CANCOMMIT_ABORT"
	PreCommit         MessageTag = "PRECOMMIT"
	PreCommitVoteYes  MessageTag = "PRECOMMIT_VOTE_YES"
	PreCommitVoteNo   MessageTag = "PRECOMMIT_VOTE_NO"
	PreCommitAbort    MessageTag = "PRECOMMIT_ABORT"
	Commit            MessageTag = "COMMIT"
	Abort             MessageTag = "ABORT"
	AckCommit         MessageTag = "ACK_COMMIT"
	AckAbort          MessageTag = "ACK_ABORT"
	QueryState        MessageTag = "QUERY_STATE"
	StateResponse     MessageTag = "STATE_RESPONSE"
	RequestHistory    MessageTag = "REQUEST_HISTORY"
	HistoryResponse   MessageTag = "HISTORY_RESPONSE"
)

// Message is the self-describing JSON envelope carried by the TCP substrate:
// {msg_type, transaction_id, data, timestamp}.
type Message struct {
	MsgType       MessageTag             `json:"msg_type"`
	TransactionID string                 `json:"transaction_id"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Timestamp     int64                  `json:"timestamp"`
}

// New builds a Message stamped with the current time.
func New(tag MessageTag, txID string, data map[string]interface{}) *Message {
	return &Message{
		MsgType:       tag,
		TransactionID: txID,
		Data:          data,
		Timestamp:     time.Now().Unix(),
	}
}

// Encode renders the message as its UTF-8 JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a JSON wire payload into a Message.
func Decode(raw []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DataAsStrings converts the generic Data payload into a string map, the
// shape transaction data always takes on the wire (mapping<string,string>).
func (m *Message) DataAsStrings() map[string]string {
	out := make(map[string]string, len(m.Data))
	for k, v := range m.Data {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = toString(v)
		}
	}
	return out
}

func toString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// StringMapToData lifts a mapping<string,string> into the generic Data shape.
func StringMapToData(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Admin frame tags: line-prefixed, parsed by splitting on '|' before any
// JSON decode.
const (
	FrameRegister       = "REGISTER"
	FrameVoteResponse   = "VOTE_RESPONSE"
	FrameAckResponse    = "ACK_RESPONSE"
	FrameHistoryRequest = "HISTORY_REQUEST"
)

// Bounded receive sizes: history replies need the larger bound because
// history grows without limit over a run.
const (
	DefaultRecvSize = 4096
	HistoryRecvSize = 65536
)

var (
	ErrBadFrame     = errors.New("protocol: malformed admin frame")
	ErrBadRegister  = errors.New("protocol: malformed REGISTER frame")
	ErrUnknownFrame = errors.New("protocol: unrecognized admin frame tag")
)

// RegisterFrame is the parsed form of `REGISTER|<pid>|<host>|<port>`.
type RegisterFrame struct {
	ParticipantID string
	Host          string
	Port          int
}

// BuildRegisterFrame renders a REGISTER admin frame.
func BuildRegisterFrame(participantID, host string, port int) string {
	return FrameRegister + "|" + participantID + "|" + host + "|" + strconv.Itoa(port)
}

// ParseRegisterFrame parses a REGISTER admin frame.
func ParseRegisterFrame(line string) (*RegisterFrame, error) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 || parts[0] != FrameRegister {
		return nil, ErrBadRegister
	}
	port, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, ErrBadRegister
	}
	return &RegisterFrame{ParticipantID: parts[1], Host: parts[2], Port: port}, nil
}

// DelayedFrame is the parsed form of VOTE_RESPONSE / ACK_RESPONSE /
// HISTORY_REQUEST: `<TAG>|<pid>|<json>`, where the JSON tail may itself
// contain '|' and must be rejoined rather than split further.
type DelayedFrame struct {
	Tag           string
	ParticipantID string
	Message       *Message
}

// BuildDelayedFrame renders a VOTE_RESPONSE / ACK_RESPONSE / HISTORY_REQUEST
// admin frame carrying msg as its JSON tail.
func BuildDelayedFrame(tag, participantID string, msg *Message) (string, error) {
	body, err := msg.Encode()
	if err != nil {
		return "", err
	}
	return tag + "|" + participantID + "|" + string(body), nil
}

// ParseDelayedFrame parses a VOTE_RESPONSE / ACK_RESPONSE / HISTORY_REQUEST
// admin frame, re-joining the JSON tail after the second '|'.
func ParseDelayedFrame(line string) (*DelayedFrame, error) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 2 {
		return nil, ErrBadFrame
	}
	switch parts[0] {
	case FrameVoteResponse, FrameAckResponse, FrameHistoryRequest:
	default:
		return nil, ErrUnknownFrame
	}
	df := &DelayedFrame{Tag: parts[0], ParticipantID: parts[1]}
	if len(parts) == 3 && len(parts[2]) > 0 {
		msg, err := Decode([]byte(parts[2]))
		if err != nil {
			return nil, err
		}
		df.Message = msg
	}
	return df, nil
}

// FrameTag reports the admin frame tag a raw line starts with, or "" if the
// line is not one of the four recognized admin frames (and should instead be
// parsed directly as a JSON Message).
func FrameTag(line string) string {
	idx := strings.IndexByte(line, '|')
	var head string
	if idx < 0 {
		head = line
	} else {
		head = line[:idx]
	}
	switch head {
	case FrameRegister, FrameVoteResponse, FrameAckResponse, FrameHistoryRequest:
		return head
	default:
		return ""
	}
}
