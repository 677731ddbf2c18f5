package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openclear/tradecore/internal/domain"
)

// TradeRecord is the sqlite row mirroring a domain.Trade.
type TradeRecord struct {
	ID           string `gorm:"primaryKey"`
	Symbol       string `gorm:"index"`
	MakerOrderID string
	TakerOrderID string
	MakerOwner   string `gorm:"index"`
	TakerOwner   string `gorm:"index"`
	TakerSide    string
	Quantity     int64
	Price        int64
	Notional     int64
	MakerFee     int64
	TakerFee     int64
	Status       string
	MatchedAt    time.Time `gorm:"index"`
	SettledAt    *time.Time
}

// Archive mirrors ledger writes to sqlite through a buffered queue so
// the match path never blocks on disk I/O. Writes are upserts keyed by
// trade ID, so re-enqueueing a trade after a status change is safe.
type Archive struct {
	db    *gorm.DB
	queue chan *domain.Trade
}

// NewArchive opens (or creates) the sqlite archive at path.
func NewArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade archive: %w", err)
	}
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate trade archive: %w", err)
	}

	return &Archive{
		db:    db,
		queue: make(chan *domain.Trade, 1024),
	}, nil
}

// Enqueue schedules a trade snapshot for archiving. If the queue is
// full the snapshot is dropped with a warning; the in-memory ledger
// remains authoritative.
func (a *Archive) Enqueue(t *domain.Trade) {
	select {
	case a.queue <- t:
	default:
		slog.Warn("trade archive queue full, dropping snapshot", slog.String("trade_id", t.ID))
	}
}

// Run drains the queue until ctx is cancelled. Call from a dedicated
// goroutine.
func (a *Archive) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.queue:
			if err := a.save(t); err != nil {
				slog.Warn("trade archive write failed",
					slog.String("trade_id", t.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (a *Archive) save(t *domain.Trade) error {
	rec := TradeRecord{
		ID:           t.ID,
		Symbol:       t.Symbol,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		MakerOwner:   t.MakerOwner,
		TakerOwner:   t.TakerOwner,
		TakerSide:    string(t.TakerSide),
		Quantity:     t.Quantity,
		Price:        t.Price,
		Notional:     t.Notional,
		MakerFee:     t.MakerFee,
		TakerFee:     t.TakerFee,
		Status:       string(t.Status),
		MatchedAt:    t.MatchedAt,
		SettledAt:    t.SettledAt,
	}
	return a.db.Save(&rec).Error
}

// Window returns archived trades for a symbol with from ≤ matched_at < to,
// oldest first. Serves historical queries that outlive the in-memory
// ledger.
func (a *Archive) Window(symbol string, from, to time.Time) ([]TradeRecord, error) {
	var recs []TradeRecord
	err := a.db.
		Where("symbol = ? AND matched_at >= ? AND matched_at < ?", symbol, from, to).
		Order("matched_at asc").
		Find(&recs).Error
	return recs, err
}
