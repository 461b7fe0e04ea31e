package store

import (
	"context"
	"errors"

	"github.com/emrgen/docsync/internal/compress"
	"github.com/emrgen/docsync/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewGormStore(db *gorm.DB, codec compress.Compress) *GormStore {
	if codec == nil {
		codec = compress.NewNop()
	}

	return &GormStore{
		db:    db,
		codec: codec,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db    *gorm.DB
	codec compress.Compress
}

func (g *GormStore) SaveEvent(ctx context.Context, docID string, seq int64, ev *model.Event) error {
	content, err := g.codec.Encode([]byte(ev.Content))
	if err != nil {
		return err
	}

	record, err := model.NewEventRecord(docID, seq, ev, content, g.codec.Name())
	if err != nil {
		return err
	}

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	if seq > 0 {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"seq": seq}),
		}
	}

	return g.db.WithContext(ctx).Clauses(onConflict).Create(record).Error
}

func (g *GormStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var record model.EventRecord
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}

	return g.decode(&record)
}

func (g *GormStore) ListEvents(ctx context.Context) ([]*model.Event, error) {
	var records []*model.EventRecord
	err := g.db.WithContext(ctx).Order("seq asc").Order("stored_at asc").Find(&records).Error
	if err != nil {
		return nil, err
	}

	return g.decodeAll(records)
}

func (g *GormStore) ListDocumentEvents(ctx context.Context, docID string) ([]*model.Event, error) {
	var records []*model.EventRecord
	err := g.db.WithContext(ctx).Where("document_id = ?", docID).Order("seq asc").Order("stored_at asc").Find(&records).Error
	if err != nil {
		return nil, err
	}

	return g.decodeAll(records)
}

func (g *GormStore) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.EventRecord{}).Count(&count).Error
	return count, err
}

func (g *GormStore) EraseDocument(ctx context.Context, docID string) error {
	return g.db.WithContext(ctx).Where("document_id = ?", docID).Delete(&model.EventRecord{}).Error
}

func (g *GormStore) Reset(ctx context.Context) error {
	return g.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.EventRecord{}).Error; err != nil {
			return err
		}
		return db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Cursor{}).Error
	})
}

func (g *GormStore) GetCursor(ctx context.Context, name string) (int64, error) {
	var cursor model.Cursor
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return cursor.Seq, nil
}

func (g *GormStore) SetCursor(ctx context.Context, name string, seq int64) error {
	return g.db.WithContext(ctx).Save(&model.Cursor{Name: name, Seq: seq}).Error
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx, codec: g.codec})
	})
}

func (g *GormStore) decodeAll(records []*model.EventRecord) ([]*model.Event, error) {
	events := make([]*model.Event, 0, len(records))
	for _, record := range records {
		ev, err := g.decode(record)
		if err != nil {
			logrus.Errorf("skipping unreadable event %s: %v", record.ID, err)
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

// decode uses the codec the record was written with, which may differ from the current one.
func (g *GormStore) decode(record *model.EventRecord) (*model.Event, error) {
	codec, err := compress.ByName(record.Compression)
	if err != nil {
		return nil, err
	}

	content, err := codec.Decode(record.Content)
	if err != nil {
		return nil, err
	}

	return record.IntoEvent(content)
}

// Close releases the underlying database connection.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
