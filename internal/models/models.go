package models

import (
	"time"

	"gorm.io/datatypes"
)

// Interface — зеркало одного WireGuard-интерфейса.
// Ровно одна строка на имя: upsert по Name, дубликатов не бывает.
type Interface struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:64;not null"`
	PrivateKey  *string // шифротекст; NULL — ключа в конфиге не было
	PublicKey   string  `gorm:"size:64"`
	Address     string  `gorm:"size:64"`
	ListenPort  int
	Subnet      string `gorm:"size:64"`
	Endpoint    string `gorm:"size:255"`
	RawConfig   *string // полный текст конфига (только при sync.store_raw_config)
	LastUpdated time.Time
}

// Peer — строка пира, привязана к интерфейсу по имени.
// Набор пиров заменяется целиком при каждой успешной синхронизации.
type Peer struct {
	ID                  uint   `gorm:"primaryKey"`
	InterfaceName       string `gorm:"index;size:64;not null"`
	Name                string `gorm:"size:100"`
	PublicKey           string `gorm:"size:64"`
	PresharedKey        *string // шифротекст; NULL — без PSK
	AllowedIPs          datatypes.JSON
	Endpoint            *string
	PersistentKeepalive *int
	Enabled             bool
}

// ServerKey — серверная пара ключей интерфейса из локального конфига.
type ServerKey struct {
	ID            uint   `gorm:"primaryKey"`
	InterfaceName string `gorm:"uniqueIndex;size:64;not null"`
	PrivateKey    string `gorm:"not null"` // всегда шифротекст
	PublicKey     string `gorm:"size:64;not null"`
	GeneratedAt   time.Time
}

// SyncStatus — append-only журнал попыток синхронизации
// (и успешных, и неуспешных; чистится retention-джобой).
type SyncStatus struct {
	ID         uint           `gorm:"primaryKey"`
	PeerCounts datatypes.JSON // {"wg0": 3, "wg1": 0}
	Status     string         `gorm:"size:16;not null"` // completed|failed
	LastSync   time.Time      `gorm:"index;autoCreateTime"`
}

const (
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)
