package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type MessageRepo interface {
	CreateMessages(ctx context.Context, tx *gorm.DB, msgs []*types.Message) ([]*types.Message, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Message, error)
	GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit, offset int) ([]*types.Message, error)
	GetLatestByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (*types.Message, error)
	CountByChatIDAndRole(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, role string) (int64, error)
	DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DeleteByChatIDs(ctx context.Context, tx *gorm.DB, chatIDs []uuid.UUID) error
	DetachFiles(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{
		db:  db,
		log: baseLog.With("repo", "MessageRepo"),
	}
}

// CreateMessages inserts msgs in order. Messages without a CreatedAt get strictly
// increasing timestamps so slice order is preserved when read back.
func (mr *messageRepo) CreateMessages(ctx context.Context, tx *gorm.DB, msgs []*types.Message) ([]*types.Message, error) {
	if tx == nil {
		tx = mr.db
	}
	if len(msgs) == 0 {
		return msgs, nil
	}
	next, err := mr.nextSeqs(ctx, tx, msgs)
	if err != nil {
		mr.log.Error("failed to read message sequence", "error", err)
		return nil, err
	}
	base := nowUTC()
	for i, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		next[m.ChatID]++
		m.Seq = next[m.ChatID]
	}
	// Attached files already exist; only the join rows are written.
	if err := tx.WithContext(ctx).Omit("AttachedFiles.*").Create(&msgs).Error; err != nil {
		mr.log.Error("failed to create messages", "error", err)
		return nil, err
	}
	return msgs, nil
}

// nextSeqs returns the highest stored Seq for every chat in msgs.
func (mr *messageRepo) nextSeqs(ctx context.Context, tx *gorm.DB, msgs []*types.Message) (map[uuid.UUID]int64, error) {
	seqs := make(map[uuid.UUID]int64)
	for _, m := range msgs {
		if _, ok := seqs[m.ChatID]; ok {
			continue
		}
		var last int64
		if err := tx.WithContext(ctx).Model(&types.Message{}).
			Where("chat_id = ?", m.ChatID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return nil, err
		}
		seqs[m.ChatID] = last
	}
	return seqs, nil
}

func (mr *messageRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Message, error) {
	if tx == nil {
		tx = mr.db
	}
	var msg types.Message
	if err := tx.WithContext(ctx).Preload("AttachedFiles").Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetByChatID returns the chat's turns oldest first. limit <= 0 means no limit.
func (mr *messageRepo) GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	if tx == nil {
		tx = mr.db
	}
	q := tx.WithContext(ctx).
		Preload("AttachedFiles").
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("seq ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var msgs []*types.Message
	if err := q.Find(&msgs).Error; err != nil {
		mr.log.Error("failed to get messages by chatID", "error", err)
		return nil, err
	}
	return msgs, nil
}

func (mr *messageRepo) GetLatestByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (*types.Message, error) {
	if tx == nil {
		tx = mr.db
	}
	var msg types.Message
	if err := tx.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Order("seq DESC").
		Order("id DESC").
		First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (mr *messageRepo) CountByChatIDAndRole(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, role string) (int64, error) {
	if tx == nil {
		tx = mr.db
	}
	var count int64
	if err := tx.WithContext(ctx).Model(&types.Message{}).
		Where("chat_id = ? AND role = ?", chatID, role).
		Count(&count).Error; err != nil {
		mr.log.Error("failed to count messages", "error", err)
		return 0, err
	}
	return count, nil
}

func (mr *messageRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		tx = mr.db
	}
	if err := tx.WithContext(ctx).Exec(`DELETE FROM message_files WHERE message_id = ?`, id).Error; err != nil {
		mr.log.Error("failed to delete message file links", "error", err)
		return err
	}
	res := tx.WithContext(ctx).Where("id = ?", id).Delete(&types.Message{})
	if res.Error != nil {
		mr.log.Error("failed to delete message", "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (mr *messageRepo) DeleteByChatIDs(ctx context.Context, tx *gorm.DB, chatIDs []uuid.UUID) error {
	if tx == nil {
		tx = mr.db
	}
	if len(chatIDs) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Exec(
		`DELETE FROM message_files WHERE message_id IN (SELECT id FROM message WHERE chat_id IN ?)`, chatIDs,
	).Error; err != nil {
		mr.log.Error("failed to delete message file links", "error", err)
		return err
	}
	if err := tx.WithContext(ctx).Where("chat_id IN ?", chatIDs).Delete(&types.Message{}).Error; err != nil {
		mr.log.Error("failed to delete messages by chat", "error", err)
		return err
	}
	return nil
}

// DetachFiles removes attachment links to files that are being deleted.
func (mr *messageRepo) DetachFiles(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error {
	if tx == nil {
		tx = mr.db
	}
	if len(fileIDs) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Exec(`DELETE FROM message_files WHERE file_id IN ?`, fileIDs).Error
}
