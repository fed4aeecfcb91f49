package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

var testEncoder = Encoder{
	SenderCompID: "api-key",
	TargetCompID: "Coinbase",
	Passphrase:   "hunter2",
	SecretKey:    base64.StdEncoding.EncodeToString([]byte("the secret")),
	HeartBtInt:   30,
	Scales:       schema.ScaleSpec{PriceScale: 2, QuantityScale: 8},
}

func TestLogonSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame, err := testEncoder.Logon(1, now)
	require.NoError(t, err)

	msg, err := Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeLogon, msg.MsgType())

	// The signature covers the SOH-joined presign fields with the
	// decoded secret as the HMAC key.
	presign := strings.Join([]string{
		FormatSendingTime(now), MsgTypeLogon, "1",
		"api-key", "Coinbase", "hunter2",
	}, string(SOH))
	mac := hmac.New(sha256.New, []byte("the secret"))
	mac.Write([]byte(presign))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	got, ok := msg.Get(TagRawData)
	require.True(t, ok)
	assert.Equal(t, want, got)

	hb, _ := msg.GetUint(TagHeartBtInt)
	assert.Equal(t, uint64(30), hb)
	cancelOnDisc, _ := msg.Get(TagCancelOnDisc)
	assert.Equal(t, "Y", cancelOnDisc)
	enc, _ := msg.Get(TagEncryptMethod)
	assert.Equal(t, "0", enc)
}

func TestLogonRejectsBadSecret(t *testing.T) {
	bad := testEncoder
	bad.SecretKey = "%%%not-base64%%%"
	_, err := bad.Logon(1, time.Now())
	require.Error(t, err)
}

func TestNewOrderSingleFields(t *testing.T) {
	frame := testEncoder.NewOrderSingle(5, time.Now(), OrderSpec{
		ClOrdID: "cl-1",
		Product: schema.Product("BTC-USD"),
		Side:    schema.SideSell,
		Price:   5000050,
		Qty:     25000000,
	})

	msg, err := Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeNewOrderSingle, msg.MsgType())
	assert.Equal(t, uint64(5), msg.SeqNum())

	get := func(tag int) string {
		v, _ := msg.Get(tag)
		return v
	}
	assert.Equal(t, "cl-1", get(TagClOrdID))
	assert.Equal(t, "BTC-USD", get(TagSymbol))
	assert.Equal(t, "2", get(TagSide))
	assert.Equal(t, "50000.50", get(TagPrice))
	assert.Equal(t, "0.25000000", get(TagOrderQty))
	assert.Equal(t, "2", get(TagOrdType), "limit")
	assert.Equal(t, "P", get(TagTimeInForce), "post only")
	assert.Equal(t, "1", get(TagHandlInst))
}

func TestOrderCancelRequestFields(t *testing.T) {
	frame := testEncoder.OrderCancelRequest(9, time.Now(), CancelSpec{
		ClOrdID:     "cxl-1",
		OrigClOrdID: "cl-1",
		OrderID:     "ex-1",
		Product:     schema.Product("BTC-USD"),
	})

	msg, err := Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeOrderCancel, msg.MsgType())
	cl, _ := msg.Get(TagClOrdID)
	orig, _ := msg.Get(TagOrigClOrdID)
	exch, _ := msg.Get(TagOrderID)
	assert.Equal(t, "cxl-1", cl)
	assert.Equal(t, "cl-1", orig)
	assert.Equal(t, "ex-1", exch)
}

func TestResendRequestRange(t *testing.T) {
	frame := testEncoder.ResendRequest(3, time.Now(), 10, 14)
	msg, err := Parse(frame)
	require.NoError(t, err)
	begin, _ := msg.GetUint(TagBeginSeqNo)
	end, _ := msg.GetUint(TagEndSeqNo)
	assert.Equal(t, uint64(10), begin)
	assert.Equal(t, uint64(14), end)
}

func TestParseExecutionReport(t *testing.T) {
	frame := NewBuilder(MsgTypeExecutionReport).
		AddUint(TagMsgSeqNum, 2).
		Add(TagClOrdID, "cl-1").
		Add(TagOrderID, "ex-1").
		Add(TagExecType, "1").
		Add(TagOrdStatus, "1").
		Add(TagSymbol, "BTC-USD").
		Add(TagSide, "1").
		Add(TagLastShares, "0.50000000").
		Add(TagLastPx, "50000.25").
		Add(TagLeavesQty, "0.50000000").
		Add(TagCumQty, "0.50000000").
		Add(TagAvgPx, "50000.25").
		Encode()

	msg, err := Parse(frame)
	require.NoError(t, err)
	rep, err := ParseExecutionReport(msg, testEncoder.Scales)
	require.NoError(t, err)

	assert.Equal(t, "cl-1", rep.ClOrdID)
	assert.Equal(t, "ex-1", rep.ExchangeOrderID)
	assert.Equal(t, schema.ExecPartialFill, rep.ExecType)
	assert.Equal(t, schema.StatusPartiallyFilled, rep.OrdStatus)
	assert.Equal(t, schema.SideBuy, rep.Side)
	assert.Equal(t, schema.Quantity(50000000), rep.LastShares)
	assert.Equal(t, schema.Price(5000025), rep.LastPx)
	assert.Equal(t, schema.Quantity(50000000), rep.LeavesQty)
}

func TestParseExecutionReportRequiresCoreTags(t *testing.T) {
	noStatus := NewBuilder(MsgTypeExecutionReport).Add(TagClOrdID, "cl-1").Encode()
	msg, err := Parse(noStatus)
	require.NoError(t, err)
	_, err = ParseExecutionReport(msg, testEncoder.Scales)
	require.True(t, errors.Is(err, ErrMissingTag), err)

	noClOrdID := NewBuilder(MsgTypeExecutionReport).Add(TagOrdStatus, "0").Encode()
	msg, err = Parse(noClOrdID)
	require.NoError(t, err)
	_, err = ParseExecutionReport(msg, testEncoder.Scales)
	require.True(t, errors.Is(err, ErrMissingTag), err)
}

func TestDoneForDayMapsToFilled(t *testing.T) {
	assert.Equal(t, schema.StatusFilled, parseOrdStatus("3"))
	assert.Equal(t, schema.ExecFill, parseExecType("3"))
}

func TestParseCancelReject(t *testing.T) {
	frame := NewBuilder(MsgTypeOrderCancelReject).
		Add(TagClOrdID, "cxl-1").
		Add(TagOrigClOrdID, "cl-1").
		Add(TagCxlRejReason, "1").
		Encode()

	msg, err := Parse(frame)
	require.NoError(t, err)
	rej, err := ParseCancelReject(msg)
	require.NoError(t, err)
	assert.Equal(t, "cxl-1", rej.ClOrdID)
	assert.Equal(t, "cl-1", rej.OrigClOrdID)
	assert.Equal(t, "1", rej.Reason)
}
