// Package controller содержит оркестрацию одного прогона синхронизации
// и координацию триггеров (таймер, вебхук, файловые события).
package controller

import (
	"context"
	"fmt"

	"wgmirror/internal/logs"
	"wgmirror/internal/models"
	"wgmirror/internal/processor"
	"wgmirror/internal/repo"
	"wgmirror/internal/wgrest"
)

// APIClient — источник данных из wgrest.
type APIClient interface {
	GetInterfaces(ctx context.Context) (map[string]wgrest.Device, error)
	GetAllPeers(ctx context.Context, names []string) (map[string][]wgrest.Peer, error)
}

// FileSource — источник локальных конфигов.
type FileSource interface {
	ReadAll(names []string) map[string]string
}

// Store — персистентное зеркало.
type Store interface {
	SyncServerKeys(ctx context.Context, keys []models.ServerKey) error
	SyncInterfaces(ctx context.Context, ifaces []models.Interface) error
	SyncPeers(ctx context.Context, peers []models.Peer) error
	UpdateSyncStatus(ctx context.Context, peerCounts map[string]int, status string) error
	GetEncryptionStats(ctx context.Context) (repo.EncryptionStats, error)
	GetPeerStats(ctx context.Context) ([]repo.PeerStat, error)
	CleanupOldSyncLogs(ctx context.Context, olderThanHours int) (int64, error)
}

// Reconciler выполняет один прогон: API + файлы → обработка → запись.
// Порядок записи фиксирован: серверные ключи → интерфейсы → пиры → статус;
// поздние шаги полагаются на закоммиченные ранние.
type Reconciler struct {
	api        APIClient
	files      FileSource
	proc       *processor.Processor
	store      Store
	interfaces []string
}

func NewReconciler(api APIClient, files FileSource, proc *processor.Processor, store Store, interfaces []string) *Reconciler {
	return &Reconciler{api: api, files: files, proc: proc, store: store, interfaces: interfaces}
}

// Run выполняет прогон до конца или до первой фатальной ошибки.
// Строка статуса пишется на любом исходе; её собственный сбой на
// неуспешном пути только логируется.
func (r *Reconciler) Run(ctx context.Context) error {
	logs.Logger.Info("starting structured sync")

	// Недоступный источник валит прогон до первой записи.
	apiIfaces, err := r.api.GetInterfaces(ctx)
	if err != nil {
		r.recordFailure(ctx)
		return fmt.Errorf("fetch interfaces: %w", err)
	}
	allPeers, err := r.api.GetAllPeers(ctx, r.interfaces)
	if err != nil {
		r.recordFailure(ctx)
		return fmt.Errorf("fetch peers: %w", err)
	}

	configs := r.files.ReadAll(r.interfaces)

	if keys := r.proc.ServerKeys(ctx, configs, r.api); len(keys) > 0 {
		if err := r.store.SyncServerKeys(ctx, keys); err != nil {
			r.recordFailure(ctx)
			return err
		}
	}

	if ifaces := r.proc.Interfaces(apiIfaces, configs); len(ifaces) > 0 {
		if err := r.store.SyncInterfaces(ctx, ifaces); err != nil {
			r.recordFailure(ctx)
			return err
		}
	}

	// Замена набора пиров выполняется всегда, даже пустым набором:
	// пиры, исчезнувшие из источника, не переживают синхронизацию.
	peers, counts := r.proc.Peers(allPeers)
	if err := r.store.SyncPeers(ctx, peers); err != nil {
		r.recordFailure(ctx)
		return err
	}

	if err := r.store.UpdateSyncStatus(ctx, counts, models.SyncCompleted); err != nil {
		r.recordFailure(ctx)
		return fmt.Errorf("record sync status: %w", err)
	}

	r.logVerification(ctx, counts)
	logs.Logger.Info("structured sync completed")
	return nil
}

// Cleanup удаляет устаревшие строки журнала синхронизаций.
func (r *Reconciler) Cleanup(ctx context.Context, olderThanHours int) error {
	_, err := r.store.CleanupOldSyncLogs(ctx, olderThanHours)
	return err
}

func (r *Reconciler) recordFailure(ctx context.Context) {
	if err := r.store.UpdateSyncStatus(ctx, nil, models.SyncFailed); err != nil {
		logs.Logger.Errorf("record failed sync status: %v", err)
	}
}

// logVerification — контрольная статистика после успешного прогона,
// любые сбои здесь только логируются.
func (r *Reconciler) logVerification(ctx context.Context, counts map[string]int) {
	enc, err := r.store.GetEncryptionStats(ctx)
	if err != nil {
		logs.Logger.Errorf("verification: encryption stats: %v", err)
		return
	}
	logs.Logger.Infof("encryption verification: %d server keys, %d interface keys, %d peer PSKs encrypted",
		enc.ServerKeys, enc.InterfaceKeys, enc.PeerPSKs)

	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return
	}
	stats, err := r.store.GetPeerStats(ctx)
	if err != nil {
		logs.Logger.Errorf("verification: peer stats: %v", err)
		return
	}
	for _, st := range stats {
		logs.Logger.Infof("interface %s: %d peers, %d with PSK, %d with endpoints",
			st.InterfaceName, st.PeerCount, st.PSKCount, st.EndpointCount)
	}
}
