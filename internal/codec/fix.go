// Package codec implements the two wire formats the engine speaks: the
// FIX 4.2 tag=value order-entry protocol and the JSON market-data feed.
package codec

import (
	"bytes"
	"strconv"
	"time"

	"github.com/yanun0323/errors"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

// SOH is the FIX field delimiter.
const SOH = '\x01'

// BeginString pins the protocol version the venue speaks.
const BeginString = "FIX.4.2"

// Common FIX tags used by this engine.
const (
	TagBeginString   = 8
	TagBodyLength    = 9
	TagCheckSum      = 10
	TagClOrdID       = 11
	TagCumQty        = 14
	TagEndSeqNo      = 16
	TagExecID        = 17
	TagAvgPx         = 6
	TagBeginSeqNo    = 7
	TagMsgSeqNum     = 34
	TagMsgType       = 35
	TagOrderID       = 37
	TagOrderQty      = 38
	TagOrdStatus     = 39
	TagOrdType       = 40
	TagOrigClOrdID   = 41
	TagPrice         = 44
	TagRefSeqNum     = 45
	TagSenderCompID  = 49
	TagSendingTime   = 52
	TagSide          = 54
	TagSymbol        = 55
	TagTargetCompID  = 56
	TagText          = 58
	TagTimeInForce   = 59
	TagRawData       = 96
	TagEncryptMethod = 98
	TagCxlRejReason  = 102
	TagHeartBtInt    = 108
	TagTestReqID     = 112
	TagLastPx        = 31
	TagLastShares    = 32
	TagExecType      = 150
	TagLeavesQty     = 151
	TagHandlInst     = 21
	TagPassword      = 554
	TagCancelOnDisc  = 8013
)

// FIX message types.
const (
	MsgTypeHeartbeat         = "0"
	MsgTypeTestRequest       = "1"
	MsgTypeResendRequest     = "2"
	MsgTypeReject            = "3"
	MsgTypeLogout            = "5"
	MsgTypeExecutionReport   = "8"
	MsgTypeOrderCancelReject = "9"
	MsgTypeLogon             = "A"
	MsgTypeNewOrderSingle    = "D"
	MsgTypeOrderCancel       = "F"
)

var (
	ErrBadFrame    = errors.New("fix: malformed frame")
	ErrBadChecksum = errors.New("fix: checksum mismatch")
	ErrMissingTag  = errors.New("fix: required tag missing")
)

// sendingTimeLayout matches the venue's UTC timestamp format.
const sendingTimeLayout = "20060102-15:04:05.000"

// FormatSendingTime renders tag 52 in UTC.
func FormatSendingTime(t time.Time) string {
	return t.UTC().Format(sendingTimeLayout)
}

// Field is one tag=value pair.
type Field struct {
	Tag   int
	Value string
}

// Message is a parsed FIX message. Fields preserve wire order.
type Message struct {
	Fields []Field
}

// Get returns the first value for tag.
func (m Message) Get(tag int) (string, bool) {
	for _, f := range m.Fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// GetUint parses the tag value as an unsigned integer.
func (m Message) GetUint(tag int) (uint64, bool) {
	s, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// MsgType returns tag 35.
func (m Message) MsgType() string {
	s, _ := m.Get(TagMsgType)
	return s
}

// SeqNum returns tag 34, or 0 when absent.
func (m Message) SeqNum() uint64 {
	v, _ := m.GetUint(TagMsgSeqNum)
	return v
}

// Render is a human readable rendition for logs: SOH becomes '|'.
func (m Message) Render() string {
	buf := make([]byte, 0, 128)
	for i, f := range m.Fields {
		if i > 0 {
			buf = append(buf, '|')
		}
		buf = strconv.AppendInt(buf, int64(f.Tag), 10)
		buf = append(buf, '=')
		buf = append(buf, f.Value...)
	}
	return string(buf)
}

// checksum is the byte sum mod 256 rendered as three digits.
func checksum(data []byte) string {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	sum %= 256
	out := strconv.Itoa(int(sum))
	for len(out) < 3 {
		out = "0" + out
	}
	return out
}

// Builder accumulates body fields and finishes a framed message with
// BodyLength and CheckSum filled in.
type Builder struct {
	msgType string
	body    []byte
}

// NewBuilder starts a message of the given type.
func NewBuilder(msgType string) *Builder {
	return &Builder{msgType: msgType, body: make([]byte, 0, 128)}
}

func (b *Builder) field(tag int, val string) *Builder {
	b.body = strconv.AppendInt(b.body, int64(tag), 10)
	b.body = append(b.body, '=')
	b.body = append(b.body, val...)
	b.body = append(b.body, SOH)
	return b
}

// Add appends a string field.
func (b *Builder) Add(tag int, val string) *Builder { return b.field(tag, val) }

// AddUint appends an unsigned integer field.
func (b *Builder) AddUint(tag int, v uint64) *Builder {
	return b.field(tag, strconv.FormatUint(v, 10))
}

// AddFixed appends a scaled integer rendered as a decimal string.
func (b *Builder) AddFixed(tag int, v int64, scale schema.Scale) *Builder {
	return b.field(tag, schema.FormatFixedPoint(v, scale))
}

// Encode frames the message: standard header, body, trailer.
func (b *Builder) Encode() []byte {
	// BodyLength spans from the start of "35=" through the last body SOH.
	bodyLen := len("35=") + len(b.msgType) + 1 + len(b.body)

	msg := make([]byte, 0, bodyLen+32)
	msg = append(msg, "8="...)
	msg = append(msg, BeginString...)
	msg = append(msg, SOH)
	msg = append(msg, "9="...)
	msg = strconv.AppendInt(msg, int64(bodyLen), 10)
	msg = append(msg, SOH)
	msg = append(msg, "35="...)
	msg = append(msg, b.msgType...)
	msg = append(msg, SOH)
	msg = append(msg, b.body...)

	msg = append(msg, "10="...)
	msg = append(msg, checksum(msg[:len(msg)-3])...)
	msg = append(msg, SOH)
	return msg
}

// Parse validates the frame and splits it into fields. The checksum is
// verified against the bytes preceding the trailer.
func Parse(frame []byte) (Message, error) {
	if !bytes.HasPrefix(frame, []byte("8=")) {
		return Message{}, ErrBadFrame
	}
	trailerIdx := bytes.LastIndex(frame, []byte{SOH, '1', '0', '='})
	if trailerIdx < 0 {
		return Message{}, ErrBadFrame
	}

	var msg Message
	for _, raw := range bytes.Split(bytes.TrimSuffix(frame, []byte{SOH}), []byte{SOH}) {
		if len(raw) == 0 {
			continue
		}
		eq := bytes.IndexByte(raw, '=')
		if eq <= 0 {
			return Message{}, ErrBadFrame
		}
		tag, err := strconv.Atoi(string(raw[:eq]))
		if err != nil {
			return Message{}, errors.Wrap(ErrBadFrame, "non-numeric tag")
		}
		msg.Fields = append(msg.Fields, Field{Tag: tag, Value: string(raw[eq+1:])})
	}

	want, ok := msg.Get(TagCheckSum)
	if !ok {
		return Message{}, ErrBadFrame
	}
	if got := checksum(frame[:trailerIdx+1]); got != want {
		return Message{}, ErrBadChecksum
	}
	return msg, nil
}

// ScanFrames is a bufio.SplitFunc yielding one FIX frame per token. A
// frame ends with the SOH that terminates the "10=nnn" trailer field.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	idx := bytes.Index(data, []byte{SOH, '1', '0', '='})
	if idx >= 0 {
		end := bytes.IndexByte(data[idx+1:], SOH)
		if end >= 0 {
			frameEnd := idx + 1 + end + 1
			return frameEnd, data[:frameEnd], nil
		}
	}
	if atEOF && len(data) > 0 {
		return 0, nil, ErrBadFrame
	}
	return 0, nil, nil
}
