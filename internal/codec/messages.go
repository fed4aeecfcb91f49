package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

// FIX side values (tag 54).
const (
	fixSideBuy  = "1"
	fixSideSell = "2"
)

// Encoder builds outbound session messages for one FIX counterparty.
type Encoder struct {
	SenderCompID string // the API key
	TargetCompID string
	Passphrase   string
	// SecretKey is the base64-encoded HMAC key used to sign Logon.
	SecretKey  string
	HeartBtInt int
	Scales     schema.ScaleSpec
}

func (e Encoder) stamp(b *Builder, seq uint64, now time.Time) *Builder {
	return b.AddUint(TagMsgSeqNum, seq).
		Add(TagSenderCompID, e.SenderCompID).
		Add(TagSendingTime, FormatSendingTime(now)).
		Add(TagTargetCompID, e.TargetCompID)
}

// Logon signs and encodes the logon message. The signature is an
// HMAC-SHA256 over the SOH-joined presign fields, keyed with the decoded
// secret, base64 encoded back into tag 96.
func (e Encoder) Logon(seq uint64, now time.Time) ([]byte, error) {
	ts := FormatSendingTime(now)
	presign := strings.Join([]string{
		ts, MsgTypeLogon, strconv.FormatUint(seq, 10),
		e.SenderCompID, e.TargetCompID, e.Passphrase,
	}, string(SOH))

	key, err := base64.StdEncoding.DecodeString(e.SecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "decode secret key")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(presign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	b := NewBuilder(MsgTypeLogon).
		AddUint(TagMsgSeqNum, seq).
		Add(TagSenderCompID, e.SenderCompID).
		Add(TagSendingTime, ts).
		Add(TagTargetCompID, e.TargetCompID).
		Add(TagRawData, signature).
		Add(TagEncryptMethod, "0").
		AddUint(TagHeartBtInt, uint64(e.HeartBtInt)).
		Add(TagPassword, e.Passphrase).
		Add(TagCancelOnDisc, "Y")
	return b.Encode(), nil
}

// Logout encodes a logout, optionally carrying a reason in tag 58.
func (e Encoder) Logout(seq uint64, now time.Time, text string) []byte {
	b := e.stamp(NewBuilder(MsgTypeLogout), seq, now)
	if text != "" {
		b.Add(TagText, text)
	}
	return b.Encode()
}

// Heartbeat encodes a heartbeat; testReqID echoes a TestRequest when set.
func (e Encoder) Heartbeat(seq uint64, now time.Time, testReqID string) []byte {
	b := e.stamp(NewBuilder(MsgTypeHeartbeat), seq, now)
	if testReqID != "" {
		b.Add(TagTestReqID, testReqID)
	}
	return b.Encode()
}

// TestRequest encodes a test request with the given ID.
func (e Encoder) TestRequest(seq uint64, now time.Time, id string) []byte {
	return e.stamp(NewBuilder(MsgTypeTestRequest), seq, now).
		Add(TagTestReqID, id).
		Encode()
}

// ResendRequest asks the counterparty to retransmit [begin, end].
func (e Encoder) ResendRequest(seq uint64, now time.Time, begin, end uint64) []byte {
	return e.stamp(NewBuilder(MsgTypeResendRequest), seq, now).
		AddUint(TagBeginSeqNo, begin).
		AddUint(TagEndSeqNo, end).
		Encode()
}

// OrderSpec is the wire-level view of a new limit order.
type OrderSpec struct {
	ClOrdID string
	Product schema.Product
	Side    schema.Side
	Price   schema.Price
	Qty     schema.Quantity
}

// NewOrderSingle encodes a post-only limit order.
func (e Encoder) NewOrderSingle(seq uint64, now time.Time, ord OrderSpec) []byte {
	side := fixSideBuy
	if ord.Side == schema.SideSell {
		side = fixSideSell
	}
	return NewBuilder(MsgTypeNewOrderSingle).
		Add(TagHandlInst, "1").
		Add(TagClOrdID, ord.ClOrdID).
		Add(TagSymbol, string(ord.Product)).
		Add(TagSide, side).
		AddFixed(TagPrice, int64(ord.Price), e.Scales.PriceScale).
		AddFixed(TagOrderQty, int64(ord.Qty), e.Scales.QuantityScale).
		Add(TagOrdType, "2").
		Add(TagTimeInForce, "P").
		AddUint(TagMsgSeqNum, seq).
		Add(TagSenderCompID, e.SenderCompID).
		Add(TagSendingTime, FormatSendingTime(now)).
		Add(TagTargetCompID, e.TargetCompID).
		Encode()
}

// CancelSpec identifies the order to cancel.
type CancelSpec struct {
	ClOrdID     string // fresh ID for the cancel itself
	OrigClOrdID string
	OrderID     string
	Product     schema.Product
}

// OrderCancelRequest encodes a cancel for a resting order.
func (e Encoder) OrderCancelRequest(seq uint64, now time.Time, spec CancelSpec) []byte {
	return NewBuilder(MsgTypeOrderCancel).
		Add(TagClOrdID, spec.ClOrdID).
		Add(TagOrderID, spec.OrderID).
		Add(TagOrigClOrdID, spec.OrigClOrdID).
		Add(TagSymbol, string(spec.Product)).
		AddUint(TagMsgSeqNum, seq).
		Add(TagSenderCompID, e.SenderCompID).
		Add(TagSendingTime, FormatSendingTime(now)).
		Add(TagTargetCompID, e.TargetCompID).
		Encode()
}

// ExecutionReport is the decoded order lifecycle update.
type ExecutionReport struct {
	ClOrdID         string
	ExchangeOrderID string
	ExecType        schema.ExecType
	OrdStatus       schema.OrderStatus
	Product         schema.Product
	Side            schema.Side
	LastShares      schema.Quantity
	LastPx          schema.Price
	LeavesQty       schema.Quantity
	CumQty          schema.Quantity
	AvgPx           schema.Price
	Text            string
}

func parseExecType(s string) schema.ExecType {
	switch s {
	case "0":
		return schema.ExecNew
	case "1":
		return schema.ExecPartialFill
	case "2", "3": // fill / done for day
		return schema.ExecFill
	case "4":
		return schema.ExecCanceled
	case "8":
		return schema.ExecRejected
	default:
		return schema.ExecUnknown
	}
}

func parseOrdStatus(s string) schema.OrderStatus {
	switch s {
	case "0", "A":
		return schema.StatusOpen
	case "1":
		return schema.StatusPartiallyFilled
	case "2", "3": // filled / done for day
		return schema.StatusFilled
	case "4":
		return schema.StatusCanceled
	case "6":
		return schema.StatusPendingCancel
	case "8":
		return schema.StatusRejected
	default:
		return schema.StatusUnknown
	}
}

func parseFixSide(s string) schema.Side {
	switch s {
	case fixSideBuy:
		return schema.SideBuy
	case fixSideSell:
		return schema.SideSell
	default:
		return schema.SideUnknown
	}
}

func (m Message) fixed(tag int, scale schema.Scale) (int64, error) {
	s, ok := m.Get(tag)
	if !ok {
		return 0, nil
	}
	return schema.ParseFixedPoint(s, scale)
}

// ParseExecutionReport decodes an execution report at the given scales.
func ParseExecutionReport(m Message, scales schema.ScaleSpec) (ExecutionReport, error) {
	clOrdID, ok := m.Get(TagClOrdID)
	if !ok {
		return ExecutionReport{}, errors.Wrap(ErrMissingTag, "tag 11")
	}
	statusStr, ok := m.Get(TagOrdStatus)
	if !ok {
		return ExecutionReport{}, errors.Wrap(ErrMissingTag, "tag 39")
	}

	rep := ExecutionReport{
		ClOrdID:   clOrdID,
		OrdStatus: parseOrdStatus(statusStr),
	}
	rep.ExchangeOrderID, _ = m.Get(TagOrderID)
	if s, ok := m.Get(TagExecType); ok {
		rep.ExecType = parseExecType(s)
	}
	if s, ok := m.Get(TagSymbol); ok {
		rep.Product = schema.Product(s)
	}
	if s, ok := m.Get(TagSide); ok {
		rep.Side = parseFixSide(s)
	}
	rep.Text, _ = m.Get(TagText)

	var err error
	var v int64
	if v, err = m.fixed(TagLastShares, scales.QuantityScale); err != nil {
		return ExecutionReport{}, errors.Wrap(err, "tag 32")
	}
	rep.LastShares = schema.Quantity(v)
	if v, err = m.fixed(TagLastPx, scales.PriceScale); err != nil {
		return ExecutionReport{}, errors.Wrap(err, "tag 31")
	}
	rep.LastPx = schema.Price(v)
	if v, err = m.fixed(TagLeavesQty, scales.QuantityScale); err != nil {
		return ExecutionReport{}, errors.Wrap(err, "tag 151")
	}
	rep.LeavesQty = schema.Quantity(v)
	if v, err = m.fixed(TagCumQty, scales.QuantityScale); err != nil {
		return ExecutionReport{}, errors.Wrap(err, "tag 14")
	}
	rep.CumQty = schema.Quantity(v)
	if v, err = m.fixed(TagAvgPx, scales.PriceScale); err != nil {
		return ExecutionReport{}, errors.Wrap(err, "tag 6")
	}
	rep.AvgPx = schema.Price(v)
	return rep, nil
}

// CancelReject is the decoded OrderCancelReject.
type CancelReject struct {
	ClOrdID     string
	OrigClOrdID string
	Reason      string
}

// ParseCancelReject decodes an OrderCancelReject message.
func ParseCancelReject(m Message) (CancelReject, error) {
	rej := CancelReject{}
	var ok bool
	if rej.OrigClOrdID, ok = m.Get(TagOrigClOrdID); !ok {
		return CancelReject{}, errors.Wrap(ErrMissingTag, "tag 41")
	}
	rej.ClOrdID, _ = m.Get(TagClOrdID)
	rej.Reason, _ = m.Get(TagCxlRejReason)
	return rej, nil
}
