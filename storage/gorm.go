package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"listening-raid-system/models"
)

// GormStore implements the store contracts on top of gorm/postgres.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// --- RaidStore ---

func (s *GormStore) Get(ctx context.Context, id string) (models.Raid, error) {
	var raid models.Raid
	if err := s.DB.WithContext(ctx).First(&raid, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return raid, ErrNotFound
		}
		return raid, err
	}
	return raid, nil
}

func (s *GormStore) GetBySlug(ctx context.Context, slug string) (models.Raid, error) {
	var raid models.Raid
	if err := s.DB.WithContext(ctx).First(&raid, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return raid, ErrNotFound
		}
		return raid, err
	}
	return raid, nil
}

func (s *GormStore) Create(ctx context.Context, raid *models.Raid) error {
	return s.DB.WithContext(ctx).Create(raid).Error
}

func (s *GormStore) CountParticipants(ctx context.Context, raidID string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("raid_id = ?", raidID).
		Count(&count).Error
	return count, err
}

func (s *GormStore) CountQualified(ctx context.Context, raidID string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("raid_id = ? AND qualified = ?", raidID, true).
		Count(&count).Error
	return count, err
}

func (s *GormStore) TransitionStatus(ctx context.Context, raidID string, from, to models.RaidStatus) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if to == models.RaidStatusCompleted {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}
	result := s.DB.WithContext(ctx).Model(&models.Raid{}).
		Where("id = ? AND status = ?", raidID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *GormStore) ListExpired(ctx context.Context, now time.Time) ([]models.Raid, error) {
	var raids []models.Raid
	err := s.DB.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.RaidStatusActive, now).
		Find(&raids).Error
	return raids, err
}

func (s *GormStore) ListActive(ctx context.Context, now time.Time) ([]models.Raid, error) {
	var raids []models.Raid
	err := s.DB.WithContext(ctx).
		Where("status = ? AND expires_at > ?", models.RaidStatusActive, now).
		Find(&raids).Error
	return raids, err
}

func (s *GormStore) SetReportURL(ctx context.Context, raidID, url string) error {
	return s.DB.WithContext(ctx).Model(&models.Raid{}).
		Where("id = ?", raidID).
		Update("report_url", url).Error
}

// --- ParticipantStore ---

func (s *GormStore) GetParticipant(ctx context.Context, participantID, raidID string) (models.RaidParticipant, error) {
	var p models.RaidParticipant
	err := s.DB.WithContext(ctx).
		Where("participant_id = ? AND raid_id = ?", participantID, raidID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p, ErrNotFound
		}
		return p, err
	}
	return p, nil
}

func (s *GormStore) Enroll(ctx context.Context, p *models.RaidParticipant, capacity int) (bool, error) {
	// The raid row is locked for the duration of the transaction so
	// concurrent enrollments serialize on the count check and cannot
	// overshoot capacity. Conflicts on (participant_id, raid_id) are a
	// no-op: a rejoin must not clobber qualification or claim state.
	admitted := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var raid models.Raid
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&raid, "id = ?", p.RaidID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var count int64
		if err := tx.Model(&models.RaidParticipant{}).
			Where("raid_id = ?", p.RaidID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(capacity) {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "raid_id"}},
			DoNothing: true,
		}).Create(p).Error; err != nil {
			return err
		}
		admitted = true
		return nil
	})
	return admitted, err
}

func (s *GormStore) UpdateProgress(ctx context.Context, participantID, raidID string, totalSeconds float64, checkedAt time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("participant_id = ? AND raid_id = ?", participantID, raidID).
		Updates(map[string]interface{}{
			"is_listening":         true,
			"total_listen_seconds": totalSeconds,
			"last_checked_at":      &checkedAt,
		}).Error
}

func (s *GormStore) ResetProgress(ctx context.Context, participantID, raidID string, checkedAt time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("participant_id = ? AND raid_id = ?", participantID, raidID).
		Updates(map[string]interface{}{
			"is_listening":         false,
			"total_listen_seconds": 0,
			"last_checked_at":      &checkedAt,
		}).Error
}

func (s *GormStore) SetListening(ctx context.Context, participantID, raidID string, listening bool) error {
	return s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("participant_id = ? AND raid_id = ?", participantID, raidID).
		Update("is_listening", listening).Error
}

func (s *GormStore) MarkQualified(ctx context.Context, participantID, raidID string, at time.Time, totalSeconds float64) (bool, error) {
	result := s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("participant_id = ? AND raid_id = ? AND qualified = ?", participantID, raidID, false).
		Updates(map[string]interface{}{
			"qualified":            true,
			"qualified_at":         &at,
			"total_listen_seconds": totalSeconds,
			"is_listening":         true,
			"last_checked_at":      &at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *GormStore) MarkClaimed(ctx context.Context, participantID, raidID string, at time.Time) (bool, error) {
	result := s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("participant_id = ? AND raid_id = ? AND qualified = ? AND claimed_reward = ?",
			participantID, raidID, true, false).
		Updates(map[string]interface{}{
			"claimed_reward":   true,
			"claimed_at":       &at,
			"settlement_state": models.SettlementStatePending,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *GormStore) SetSettlement(ctx context.Context, participantID, raidID string, state models.SettlementState, txRef string) error {
	return s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("participant_id = ? AND raid_id = ?", participantID, raidID).
		Updates(map[string]interface{}{
			"settlement_state": state,
			"claim_tx_ref":     txRef,
		}).Error
}

func (s *GormStore) ListPendingSettlements(ctx context.Context) ([]models.RaidParticipant, error) {
	var rows []models.RaidParticipant
	err := s.DB.WithContext(ctx).
		Where("claimed_reward = ? AND settlement_state = ?", true, models.SettlementStatePending).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) SaveNotificationRef(ctx context.Context, participantID, raidID, messageRef string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.RaidParticipant{}).
		Where("participant_id = ? AND raid_id = ?", participantID, raidID).
		Updates(map[string]interface{}{
			"last_message_ref": messageRef,
			"last_notified_at": &at,
		}).Error
}

func (s *GormStore) ListQualified(ctx context.Context, raidID string) ([]models.RaidParticipant, error) {
	var rows []models.RaidParticipant
	err := s.DB.WithContext(ctx).
		Where("raid_id = ? AND qualified = ?", raidID, true).
		Order("qualified_at ASC").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) ListListening(ctx context.Context, raidID string) ([]models.RaidParticipant, error) {
	var rows []models.RaidParticipant
	err := s.DB.WithContext(ctx).
		Where("raid_id = ? AND is_listening = ? AND qualified = ?", raidID, true, false).
		Find(&rows).Error
	return rows, err
}

// --- CredentialStore ---

func (s *GormStore) GetCredential(ctx context.Context, participantID string, platform models.Platform) (models.PlatformCredential, error) {
	var cred models.PlatformCredential
	err := s.DB.WithContext(ctx).
		Where("participant_id = ? AND platform = ?", participantID, platform).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cred, ErrNotFound
		}
		return cred, err
	}
	return cred, nil
}
