package controller

import (
	"context"
	"errors"
	"testing"

	"wgmirror/internal/models"
	"wgmirror/internal/processor"
	"wgmirror/internal/repo"
	"wgmirror/internal/wgconf"
	"wgmirror/internal/wgrest"
)

const testPub = "HIgo9xNzJMWLKASShiTqIybxZ0U3wGLiUeJ1PKf8ykw="

type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}
	enc := "enc:" + plaintext
	return &enc, nil
}

type fakeAPI struct {
	devices    map[string]wgrest.Device
	peers      map[string][]wgrest.Peer
	ifacesErr  error
	peersErr   error
	ifaceCalls int
}

func (f *fakeAPI) GetInterfaces(ctx context.Context) (map[string]wgrest.Device, error) {
	f.ifaceCalls++
	return f.devices, f.ifacesErr
}

func (f *fakeAPI) GetAllPeers(ctx context.Context, names []string) (map[string][]wgrest.Peer, error) {
	if f.peersErr != nil {
		return nil, f.peersErr
	}
	return f.peers, nil
}

type fakeFiles struct{ configs map[string]string }

func (f *fakeFiles) ReadAll(names []string) map[string]string { return f.configs }

type fakeStore struct {
	order    []string
	statuses []string
	counts   []map[string]int
	peers    [][]models.Peer
	ifaces   [][]models.Interface

	peersErr  error
	ifacesErr error
	statusErr error
	cleaned   []int
}

func (s *fakeStore) SyncServerKeys(ctx context.Context, keys []models.ServerKey) error {
	s.order = append(s.order, "server_keys")
	return nil
}

func (s *fakeStore) SyncInterfaces(ctx context.Context, ifaces []models.Interface) error {
	s.order = append(s.order, "interfaces")
	s.ifaces = append(s.ifaces, ifaces)
	return s.ifacesErr
}

func (s *fakeStore) SyncPeers(ctx context.Context, peers []models.Peer) error {
	s.order = append(s.order, "peers")
	s.peers = append(s.peers, peers)
	return s.peersErr
}

func (s *fakeStore) UpdateSyncStatus(ctx context.Context, counts map[string]int, status string) error {
	s.order = append(s.order, "status")
	s.statuses = append(s.statuses, status)
	s.counts = append(s.counts, counts)
	return s.statusErr
}

func (s *fakeStore) GetEncryptionStats(ctx context.Context) (repo.EncryptionStats, error) {
	return repo.EncryptionStats{}, nil
}

func (s *fakeStore) GetPeerStats(ctx context.Context) ([]repo.PeerStat, error) {
	return nil, nil
}

func (s *fakeStore) CleanupOldSyncLogs(ctx context.Context, olderThanHours int) (int64, error) {
	s.cleaned = append(s.cleaned, olderThanHours)
	return 0, nil
}

func newTestReconciler(api *fakeAPI, files *fakeFiles, store *fakeStore) *Reconciler {
	proc := processor.New(fakeCipher{}, func(string) wgconf.SubnetHint { return wgconf.SubnetHint{} }, processor.Options{})
	return NewReconciler(api, files, proc, store, []string{"wg0", "wg1"})
}

func TestRunHappyPathWritesInOrder(t *testing.T) {
	api := &fakeAPI{
		devices: map[string]wgrest.Device{"wg0": {Name: "wg0", PublicKey: testPub, ListenPort: 51820}},
		peers: map[string][]wgrest.Peer{
			"wg0": {{Name: "a", PublicKey: testPub}},
			"wg1": {},
		},
	}
	files := &fakeFiles{configs: map[string]string{"wg0": "Address = 10.10.0.1/24\n"}}
	store := &fakeStore{}

	if err := newTestReconciler(api, files, store).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"interfaces", "peers", "status"}
	if len(store.order) != len(want) {
		t.Fatalf("order = %v", store.order)
	}
	for i := range want {
		if store.order[i] != want[i] {
			t.Fatalf("order = %v, want %v", store.order, want)
		}
	}
	if store.statuses[0] != models.SyncCompleted {
		t.Fatalf("status = %q", store.statuses[0])
	}
	if store.counts[0]["wg0"] != 1 || store.counts[0]["wg1"] != 0 {
		t.Fatalf("counts = %v", store.counts[0])
	}
}

func TestRunInterfaceFetchFailureAbortsBeforeWrites(t *testing.T) {
	api := &fakeAPI{ifacesErr: errors.New("api unreachable")}
	store := &fakeStore{}

	err := newTestReconciler(api, &fakeFiles{}, store).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	// Единственная запись — строка статуса failed.
	if len(store.order) != 1 || store.order[0] != "status" {
		t.Fatalf("order = %v", store.order)
	}
	if store.statuses[0] != models.SyncFailed {
		t.Fatalf("status = %q", store.statuses[0])
	}
}

func TestRunPeerFetchFailureAbortsBeforeWrites(t *testing.T) {
	api := &fakeAPI{
		devices:  map[string]wgrest.Device{"wg0": {Name: "wg0"}},
		peersErr: errors.New("timeout"),
	}
	store := &fakeStore{}
	if err := newTestReconciler(api, &fakeFiles{}, store).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(store.order) != 1 || store.order[0] != "status" || store.statuses[0] != models.SyncFailed {
		t.Fatalf("order = %v statuses = %v", store.order, store.statuses)
	}
}

func TestRunPersistenceFailureRecordsFailedStatus(t *testing.T) {
	api := &fakeAPI{
		devices: map[string]wgrest.Device{"wg0": {Name: "wg0"}},
		peers:   map[string][]wgrest.Peer{"wg0": {{Name: "a", PublicKey: testPub}}},
	}
	store := &fakeStore{peersErr: errors.New("deadlock")}

	if err := newTestReconciler(api, &fakeFiles{}, store).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	last := store.order[len(store.order)-1]
	if last != "status" || store.statuses[len(store.statuses)-1] != models.SyncFailed {
		t.Fatalf("failed status not recorded: order=%v statuses=%v", store.order, store.statuses)
	}
}

func TestRunStatusWriteFailureOnFailurePathIsSwallowed(t *testing.T) {
	api := &fakeAPI{ifacesErr: errors.New("down")}
	store := &fakeStore{statusErr: errors.New("db also down")}

	err := newTestReconciler(api, &fakeFiles{}, store).Run(context.Background())
	if err == nil || err.Error() != "fetch interfaces: down" {
		t.Fatalf("err = %v, want original fetch error", err)
	}
}

func TestRunReplacesPeersEvenWhenSetIsEmpty(t *testing.T) {
	api := &fakeAPI{
		devices: map[string]wgrest.Device{"wg0": {Name: "wg0"}},
		peers:   map[string][]wgrest.Peer{"wg0": {}, "wg1": {}},
	}
	store := &fakeStore{}
	if err := newTestReconciler(api, &fakeFiles{}, store).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.peers) != 1 || len(store.peers[0]) != 0 {
		t.Fatalf("empty replace must still happen: %v", store.peers)
	}
}

func TestCleanupDelegatesRetention(t *testing.T) {
	store := &fakeStore{}
	r := newTestReconciler(&fakeAPI{}, &fakeFiles{}, store)
	if err := r.Cleanup(context.Background(), 24); err != nil {
		t.Fatal(err)
	}
	if len(store.cleaned) != 1 || store.cleaned[0] != 24 {
		t.Fatalf("cleaned = %v", store.cleaned)
	}
}
