package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wgmirror/internal/db"
	"wgmirror/internal/logs"
	"wgmirror/internal/models"
)

var ErrNoDatabase = errors.New("database not configured")

// MirrorStore — все операции зеркала над одной БД.
// Перед каждой пачкой операций соединение проверяется ping-ом и при
// необходимости переоткрывается (reconnect-on-demand).
type MirrorStore struct {
	mu     sync.Mutex
	db     *gorm.DB
	driver string
	dsn    string
}

func NewMirrorStore(gdb *gorm.DB, driver, dsn string) *MirrorStore {
	return &MirrorStore{db: gdb, driver: driver, dsn: dsn}
}

// ensure возвращает живой handle, переоткрывая соединение при мёртвом пуле.
func (s *MirrorStore) ensure(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB.PingContext(ctx) == nil {
		return s.db, nil
	}
	logs.Logger.Warnf("database connection lost, reopening")
	reopened, err := db.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("reopen database: %w", err)
	}
	s.db = reopened
	return s.db, nil
}

// SyncServerKeys — идемпотентный upsert по имени интерфейса.
func (s *MirrorStore) SyncServerKeys(ctx context.Context, keys []models.ServerKey) error {
	gdb, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.PrivateKey == "" || k.PublicKey == "" {
			logs.Logger.Warnf("skipping server key for %s: missing key material", k.InterfaceName)
			continue
		}
		err := gdb.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "interface_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"private_key", "public_key", "generated_at"}),
		}).Create(&models.ServerKey{
			InterfaceName: k.InterfaceName,
			PrivateKey:    k.PrivateKey,
			PublicKey:     k.PublicKey,
			GeneratedAt:   k.GeneratedAt,
		}).Error
		if err != nil {
			return fmt.Errorf("sync server key for %s: %w", k.InterfaceName, err)
		}
	}
	logs.Logger.Infof("synced %d server keys", len(keys))
	return nil
}

// SyncInterfaces — идемпотентный upsert по имени: повторный вызов с тем же
// именем обновляет строку, дубликатов не создаёт.
func (s *MirrorStore) SyncInterfaces(ctx context.Context, ifaces []models.Interface) error {
	gdb, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	for _, rec := range ifaces {
		rec := rec
		rec.ID = 0
		err := gdb.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"private_key", "public_key", "address", "listen_port",
				"subnet", "endpoint", "raw_config", "last_updated",
			}),
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("sync interface %s: %w", rec.Name, err)
		}
	}
	logs.Logger.Infof("synced %d interfaces", len(ifaces))
	return nil
}

// SyncPeers заменяет набор пиров целиком: delete-all + insert-all в одной
// транзакции, чтобы читатель видел либо старый полный набор, либо новый.
func (s *MirrorStore) SyncPeers(ctx context.Context, peers []models.Peer) error {
	gdb, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Peer{}).Error; err != nil {
			return err
		}
		for i := range peers {
			peers[i].ID = 0
		}
		if len(peers) == 0 {
			return nil
		}
		return tx.Create(&peers).Error
	})
	if err != nil {
		return fmt.Errorf("replace peers: %w", err)
	}
	logs.Logger.Infof("synced %d peers", len(peers))
	return nil
}

// UpdateSyncStatus добавляет строку журнала. Вызывается на каждом исходе,
// включая неуспешные прогоны.
func (s *MirrorStore) UpdateSyncStatus(ctx context.Context, peerCounts map[string]int, status string) error {
	gdb, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	if peerCounts == nil {
		peerCounts = map[string]int{}
	}
	counts, err := json.Marshal(peerCounts)
	if err != nil {
		return err
	}
	return gdb.WithContext(ctx).Create(&models.SyncStatus{
		PeerCounts: counts,
		Status:     status,
		LastSync:   time.Now().UTC(),
	}).Error
}

// EncryptionStats — счётчики зашифрованных секретов для верификации.
type EncryptionStats struct {
	ServerKeys    int64
	InterfaceKeys int64
	PeerPSKs      int64
}

func (s *MirrorStore) GetEncryptionStats(ctx context.Context) (EncryptionStats, error) {
	gdb, err := s.ensure(ctx)
	if err != nil {
		return EncryptionStats{}, err
	}
	var stats EncryptionStats
	q := gdb.WithContext(ctx)
	if err := q.Model(&models.ServerKey{}).Where("private_key <> ''").Count(&stats.ServerKeys).Error; err != nil {
		return stats, err
	}
	if err := q.Model(&models.Interface{}).Where("private_key IS NOT NULL AND private_key <> ''").Count(&stats.InterfaceKeys).Error; err != nil {
		return stats, err
	}
	if err := q.Model(&models.Peer{}).Where("preshared_key IS NOT NULL AND preshared_key <> ''").Count(&stats.PeerPSKs).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// PeerStat — агрегат по одному интерфейсу.
type PeerStat struct {
	InterfaceName string
	PeerCount     int64
	PSKCount      int64
	EndpointCount int64
}

func (s *MirrorStore) GetPeerStats(ctx context.Context) ([]PeerStat, error) {
	gdb, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	var stats []PeerStat
	err = gdb.WithContext(ctx).Model(&models.Peer{}).
		Select("interface_name, COUNT(*) AS peer_count, " +
			"COUNT(preshared_key) AS psk_count, COUNT(endpoint) AS endpoint_count").
		Group("interface_name").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CleanupOldSyncLogs удаляет строки журнала старше olderThanHours.
// Отсутствие подходящих строк — не ошибка.
func (s *MirrorStore) CleanupOldSyncLogs(ctx context.Context, olderThanHours int) (int64, error) {
	gdb, err := s.ensure(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanHours) * time.Hour)
	res := gdb.WithContext(ctx).Where("last_sync < ?", cutoff).Delete(&models.SyncStatus{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logs.Logger.Infof("cleaned up %d old sync status records", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
