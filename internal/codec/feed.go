package codec

import (
	"encoding/json"

	"github.com/yanun0323/errors"

	"github.com/arda-arslan/cryptobot/internal/book"
	"github.com/arda-arslan/cryptobot/internal/schema"
)

// Feed message types.
const (
	FeedTypeSubscribe     = "subscribe"
	FeedTypeSubscriptions = "subscriptions"
	FeedTypeSnapshot      = "snapshot"
	FeedTypeL2Update      = "l2update"
	FeedTypeMatch         = "match"
	FeedTypeDone          = "done"
	FeedTypeError         = "error"
)

var ErrBadFeedMessage = errors.New("feed: malformed message")

// SubscribeRequest names the products and channels to stream.
type SubscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// NewSubscribeRequest builds a level2 subscription for the products.
func NewSubscribeRequest(products []schema.Product) SubscribeRequest {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, string(p))
	}
	return SubscribeRequest{
		Type:       FeedTypeSubscribe,
		ProductIDs: ids,
		Channels:   []string{"level2"},
	}
}

// feedEnvelope sniffs the message type before a full decode.
type feedEnvelope struct {
	Type string `json:"type"`
}

// feedSnapshot is the wire layout of a full book snapshot.
type feedSnapshot struct {
	Type      string      `json:"type"`
	ProductID string      `json:"product_id"`
	Sequence  uint64      `json:"sequence"`
	Bids      [][2]string `json:"bids"` // [0]price [1]size
	Asks      [][2]string `json:"asks"`
}

// feedL2Update is the wire layout of an increment.
type feedL2Update struct {
	Type      string      `json:"type"`
	ProductID string      `json:"product_id"`
	Sequence  uint64      `json:"sequence"`
	Changes   [][3]string `json:"changes"` // [0]side [1]price [2]size
}

// feedMatch is the wire layout of a trade print.
type feedMatch struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Sequence  uint64 `json:"sequence"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
}

// Snapshot is the decoded full book replacement.
type Snapshot struct {
	Product  schema.Product
	Sequence uint64
	Bids     []book.Level
	Asks     []book.Level
}

// Increment is one decoded level change.
type Increment struct {
	Product  schema.Product
	Sequence uint64
	Side     schema.Side
	Price    schema.Price
	Size     schema.Quantity
}

// Trade is a decoded match print. It does not mutate book state.
type Trade struct {
	Product  schema.Product
	Sequence uint64
	Side     schema.Side
	Price    schema.Price
	Size     schema.Quantity
}

// FeedMessage is the union of decoded feed payloads; exactly one of the
// pointers is set, or Kind alone for acks and removals.
type FeedMessage struct {
	Kind      string
	Snapshot  *Snapshot
	Increment []Increment
	Trade     *Trade
}

func parseFeedSide(s string) (schema.Side, error) {
	switch s {
	case "buy":
		return schema.SideBuy, nil
	case "sell":
		return schema.SideSell, nil
	default:
		return schema.SideUnknown, errors.Wrap(ErrBadFeedMessage, "side "+s)
	}
}

// DecodeFeedMessage decodes one raw feed payload at the given scales.
func DecodeFeedMessage(raw []byte, scales schema.ScaleSpec) (FeedMessage, error) {
	var env feedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return FeedMessage{}, errors.Wrap(err, "decode envelope")
	}

	switch env.Type {
	case FeedTypeSnapshot:
		var ws feedSnapshot
		if err := json.Unmarshal(raw, &ws); err != nil {
			return FeedMessage{}, errors.Wrap(err, "decode snapshot")
		}
		snap := Snapshot{Product: schema.Product(ws.ProductID), Sequence: ws.Sequence}
		var err error
		if snap.Bids, err = decodeLevels(ws.Bids, scales); err != nil {
			return FeedMessage{}, errors.Wrap(err, "snapshot bids")
		}
		if snap.Asks, err = decodeLevels(ws.Asks, scales); err != nil {
			return FeedMessage{}, errors.Wrap(err, "snapshot asks")
		}
		return FeedMessage{Kind: FeedTypeSnapshot, Snapshot: &snap}, nil

	case FeedTypeL2Update:
		var wu feedL2Update
		if err := json.Unmarshal(raw, &wu); err != nil {
			return FeedMessage{}, errors.Wrap(err, "decode l2update")
		}
		incs := make([]Increment, 0, len(wu.Changes))
		for _, ch := range wu.Changes {
			side, err := parseFeedSide(ch[0])
			if err != nil {
				return FeedMessage{}, err
			}
			price, err := schema.ParsePrice(ch[1], scales.PriceScale)
			if err != nil {
				return FeedMessage{}, errors.Wrap(err, "l2update price")
			}
			size, err := schema.ParseQuantity(ch[2], scales.QuantityScale)
			if err != nil {
				return FeedMessage{}, errors.Wrap(err, "l2update size")
			}
			incs = append(incs, Increment{
				Product:  schema.Product(wu.ProductID),
				Sequence: wu.Sequence,
				Side:     side,
				Price:    price,
				Size:     size,
			})
		}
		return FeedMessage{Kind: FeedTypeL2Update, Increment: incs}, nil

	case FeedTypeMatch, FeedTypeDone:
		var wm feedMatch
		if err := json.Unmarshal(raw, &wm); err != nil {
			return FeedMessage{}, errors.Wrap(err, "decode match")
		}
		trade := Trade{Product: schema.Product(wm.ProductID), Sequence: wm.Sequence}
		if wm.Side != "" {
			side, err := parseFeedSide(wm.Side)
			if err != nil {
				return FeedMessage{}, err
			}
			trade.Side = side
		}
		if wm.Price != "" {
			price, err := schema.ParsePrice(wm.Price, scales.PriceScale)
			if err != nil {
				return FeedMessage{}, errors.Wrap(err, "match price")
			}
			trade.Price = price
		}
		if wm.Size != "" {
			size, err := schema.ParseQuantity(wm.Size, scales.QuantityScale)
			if err != nil {
				return FeedMessage{}, errors.Wrap(err, "match size")
			}
			trade.Size = size
		}
		return FeedMessage{Kind: env.Type, Trade: &trade}, nil

	default:
		return FeedMessage{Kind: env.Type}, nil
	}
}

func decodeLevels(rows [][2]string, scales schema.ScaleSpec) ([]book.Level, error) {
	out := make([]book.Level, 0, len(rows))
	for _, row := range rows {
		price, err := schema.ParsePrice(row[0], scales.PriceScale)
		if err != nil {
			return nil, err
		}
		size, err := schema.ParseQuantity(row[1], scales.QuantityScale)
		if err != nil {
			return nil, err
		}
		out = append(out, book.Level{Price: price, Size: size})
	}
	return out, nil
}
