package eventchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// eventRow is the persisted form of a Record.
type eventRow struct {
	ID       uint64    `gorm:"primaryKey"`
	TradeID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_trade_seq"`
	Seq      uint64    `gorm:"not null;uniqueIndex:idx_trade_seq"`
	Kind     string    `gorm:"type:varchar(32);not null"`
	At       time.Time `gorm:"not null"`
	PrevHash string    `gorm:"type:varchar(64)"`
	Hash     string    `gorm:"type:varchar(64);not null"`
	Payload  []byte    `gorm:"type:jsonb;not null"`
}

func (eventRow) TableName() string {
	return "trade_events"
}

func toRow(rec Record) (eventRow, error) {
	payload, err := json.Marshal(rec.Event)
	if err != nil {
		return eventRow{}, fmt.Errorf("failed to encode %s: %w", rec.Kind(), err)
	}
	return eventRow{
		TradeID:  string(rec.Trade),
		Seq:      rec.Seq,
		Kind:     string(rec.Kind()),
		At:       rec.At,
		PrevHash: rec.PrevHash,
		Hash:     rec.Hash,
		Payload:  payload,
	}, nil
}

func (r eventRow) toRecord() (Record, error) {
	ev, err := decodeEvent(Kind(r.Kind), r.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("%w: record %d of %s: %v", ErrCorruptedChain, r.Seq, r.TradeID, err)
	}
	return Record{
		Trade:    TradeID(r.TradeID),
		Seq:      r.Seq,
		At:       r.At.UTC(),
		PrevHash: r.PrevHash,
		Hash:     r.Hash,
		Event:    ev,
	}, nil
}

// GormStore implements Store on postgres. The (trade_id, seq) unique index
// keeps chains linear even across processes sharing the database.
type GormStore struct {
	db    *gorm.DB
	locks tradeLocks
	now   func() time.Time
}

// OpenGormStore connects to postgres and migrates the events table.
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate event store: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Append implements Store
func (s *GormStore) Append(ctx context.Context, trade TradeID, ev Event) (Record, error) {
	unlock := s.locks.lock(trade)
	defer unlock()

	var rec Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tailRow eventRow
		res := tx.Where("trade_id = ?", string(trade)).Order("seq desc").Limit(1).Find(&tailRow)
		if res.Error != nil {
			return res.Error
		}

		var tail *Record
		var tailKind Kind
		if res.RowsAffected > 0 {
			t, err := tailRow.toRecord()
			if err != nil {
				return err
			}
			tail = &t
			tailKind = t.Kind()
		}
		if !Allowed(tailKind, ev.Kind()) {
			return newTransitionError(trade, tailKind, ev.Kind())
		}

		var err error
		rec, err = newRecord(trade, tail, ev, s.now())
		if err != nil {
			return err
		}
		row, err := toRow(rec)
		if err != nil {
			return err
		}
		return insert(tx, row, tailKind)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// insert stores row. A row already at its position means another writer
// appended after tail was read.
func insert(tx *gorm.DB, row eventRow, tail Kind) error {
	if err := tx.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return newTransitionError(TradeID(row.TradeID), tail, Kind(row.Kind))
		}
		return fmt.Errorf("failed to store %s: %w", row.Kind, err)
	}
	return nil
}

// Events implements Store
func (s *GormStore) Events(ctx context.Context, trade TradeID) ([]Record, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).Where("trade_id = ?", string(trade)).Order("seq asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %s: %w", trade, err)
	}
	if len(rows) == 0 {
		return nil, ErrUnknownTrade
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// State implements Store
func (s *GormStore) State(ctx context.Context, trade TradeID) (TradeState, error) {
	records, err := s.Events(ctx, trade)
	if err != nil {
		return TradeState{}, err
	}
	return Replay(records)
}

// Trades implements Store
func (s *GormStore) Trades(ctx context.Context) ([]TradeID, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&eventRow{}).Distinct("trade_id").Order("trade_id").Pluck("trade_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	out := make([]TradeID, len(ids))
	for i, id := range ids {
		out[i] = TradeID(id)
	}
	return out, nil
}
