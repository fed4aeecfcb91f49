// Package archive persists terminal orders to PostgreSQL for later
// analysis. Archiving is best effort and never blocks trading.
package archive

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"github.com/arda-arslan/cryptobot/internal/bus"
	"github.com/arda-arslan/cryptobot/internal/oms"
	"github.com/arda-arslan/cryptobot/pkg/conn"
)

// OrderRecord is the persisted form of a finished order.
type OrderRecord struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	ClientOrderID   string `gorm:"uniqueIndex;size:64"`
	ExchangeOrderID string `gorm:"index;size:64"`
	Product         string `gorm:"index;size:32"`
	Side            string `gorm:"size:8"`
	Price           int64
	RequestedSize   int64
	FilledSize      int64
	AvgFillPrice    int64
	Status          string `gorm:"size:24"`
	CreatedAt       time.Time
	ArchivedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName keeps the table name stable across gorm versions.
func (OrderRecord) TableName() string { return "order_archive" }

// Store writes order records through a PostgreSQL pool. It implements
// the order manager's archiver. Records pass through a bounded queue
// drained by a single writer goroutine, so a slow database never stalls
// the caller.
type Store struct {
	client *conn.Client
	queue  *bus.Queue[oms.Order]
	done   chan struct{}
	// write is swapped out in tests.
	write func(oms.Order)
}

const queueDepth = 1024

// NewStore connects, migrates the archive table, and starts the writer.
func NewStore(opt conn.Option) (*Store, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, errors.Wrap(err, "connect archive db")
	}
	if err := client.DB().AutoMigrate(&OrderRecord{}); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "migrate archive table")
	}
	s := &Store{
		client: client,
		queue:  bus.NewQueue[oms.Order](queueDepth),
		done:   make(chan struct{}),
	}
	s.write = s.insert
	go s.drain()
	return s, nil
}

// Close drains the queue and releases the connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.queue.Close()
	<-s.done
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Archive enqueues one terminal order for persistence. It never blocks;
// if the queue is full the record is dropped with a log line.
func (s *Store) Archive(ord oms.Order) {
	if err := s.queue.TryPublish(ord); err != nil {
		logs.Errorf("archive: order %s not queued: %v", ord.ClientOrderID, err)
	}
}

func (s *Store) drain() {
	defer close(s.done)
	s.queue.Run(context.Background(), func(ord oms.Order) { s.write(ord) })
}

// insert persists one record. Failures are logged, not raised; losing an
// archive row must not disturb the trading path.
func (s *Store) insert(ord oms.Order) {
	rec := OrderRecord{
		ClientOrderID:   ord.ClientOrderID,
		ExchangeOrderID: ord.ExchangeOrderID,
		Product:         string(ord.Product),
		Side:            ord.Side.String(),
		Price:           int64(ord.Price),
		RequestedSize:   int64(ord.RequestedSize),
		FilledSize:      int64(ord.FilledSize),
		AvgFillPrice:    int64(ord.AvgFillPrice),
		Status:          ord.Status.String(),
		CreatedAt:       ord.CreatedAt,
	}
	if err := s.client.DB().Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return
		}
		logs.Errorf("archive: order %s not persisted: %v", ord.ClientOrderID, err)
	}
}

// Recent returns the latest archived orders, newest first.
func (s *Store) Recent(limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []OrderRecord
	err := s.client.DB().Order("archived_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "query archive")
	}
	return out, nil
}
