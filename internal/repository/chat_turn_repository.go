package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docchat/internal/model"
)

// chatTurnRecord is the MySQL row of one chat turn. Turns of a document are
// ordered by their auto-increment id.
type chatTurnRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Document  string    `gorm:"size:255;index;not null"`
	Role      string    `gorm:"size:16;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (chatTurnRecord) TableName() string { return "chat_turns" }

type ChatTurnRepository struct {
	db *gorm.DB
}

func NewChatTurnRepository(db *gorm.DB) *ChatTurnRepository {
	return &ChatTurnRepository{db: db}
}

func (r *ChatTurnRepository) Load(ctx context.Context, document string) ([]model.ChatTurn, error) {
	var records []chatTurnRecord
	if err := r.db.WithContext(ctx).Where("document = ?", document).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list chat turns failed: %w", err)
	}
	turns := make([]model.ChatTurn, len(records))
	for i, rec := range records {
		turns[i] = model.ChatTurn{Role: rec.Role, Content: rec.Content, CreatedAt: rec.CreatedAt}
	}
	return turns, nil
}

func (r *ChatTurnRepository) Append(ctx context.Context, document string, turns ...model.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	records := toRecords(document, turns)
	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("create chat turns failed: %w", err)
	}
	return nil
}

// Save replaces the whole history of document in one transaction.
func (r *ChatTurnRepository) Save(ctx context.Context, document string, turns []model.ChatTurn) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document = ?", document).Delete(&chatTurnRecord{}).Error; err != nil {
			return err
		}
		if len(turns) == 0 {
			return nil
		}
		records := toRecords(document, turns)
		return tx.Create(&records).Error
	})
	if err != nil {
		return fmt.Errorf("replace chat turns failed: %w", err)
	}
	return nil
}

func (r *ChatTurnRepository) Delete(ctx context.Context, document string) error {
	if err := r.db.WithContext(ctx).Where("document = ?", document).Delete(&chatTurnRecord{}).Error; err != nil {
		return fmt.Errorf("delete chat turns failed: %w", err)
	}
	return nil
}

func toRecords(document string, turns []model.ChatTurn) []chatTurnRecord {
	records := make([]chatTurnRecord, len(turns))
	for i, t := range turns {
		records[i] = chatTurnRecord{
			Document:  document,
			Role:      t.Role,
			Content:   t.Content,
			CreatedAt: t.CreatedAt,
		}
	}
	return records
}
