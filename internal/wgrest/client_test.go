package wgrest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "token123")
}

func TestGetInterfacesIndexesByName(t *testing.T) {
	var gotAuth string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/devices/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"name":"wg0","public_key":"pk0","listen_port":51820},{"name":"wg1","public_key":"pk1","listen_port":0}]`))
	})

	devices, err := c.GetInterfaces(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer token123" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if len(devices) != 2 || devices["wg0"].ListenPort != 51820 || devices["wg1"].PublicKey != "pk1" {
		t.Fatalf("devices = %v", devices)
	}
}

func TestGetInterfacesPropagatesServerError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if _, err := c.GetInterfaces(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetPeersTreats404AsEmptyList(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	peers, err := c.GetPeers(context.Background(), "wg9")
	if err != nil {
		t.Fatal(err)
	}
	if peers == nil || len(peers) != 0 {
		t.Fatalf("peers = %v", peers)
	}
}

func TestGetPeersKeepsRawShapes(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"laptop","public_key":"pk","allowed_ips":"10.0.0.2/32, 10.0.0.3/32","persistent_keepalive_interval":"25"}]`))
	})
	peers, err := c.GetPeers(context.Background(), "wg0")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 {
		t.Fatalf("peers = %v", peers)
	}
	// Разнобой форматов wgrest не нормализуется на уровне клиента.
	if s, ok := peers[0].AllowedIPs.(string); !ok || !strings.Contains(s, "10.0.0.3/32") {
		t.Fatalf("allowed_ips = %#v", peers[0].AllowedIPs)
	}
	if s, ok := peers[0].PersistentKeepalive.(string); !ok || s != "25" {
		t.Fatalf("keepalive = %#v", peers[0].PersistentKeepalive)
	}
}

func TestGetAllPeersAbortsOnNon404Error(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/devices/wg0/peers/":
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	if _, err := c.GetAllPeers(context.Background(), []string{"wg0", "wg1"}); err == nil {
		t.Fatal("expected error on wg1")
	}
}

func TestGetAllPeersCollectsPerInterface(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/devices/wg0/peers/":
			w.Write([]byte(`[{"name":"a","public_key":"pk"}]`))
		case "/v1/devices/wg1/peers/":
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	all, err := c.GetAllPeers(context.Background(), []string{"wg0", "wg1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all["wg0"]) != 1 || len(all["wg1"]) != 0 {
		t.Fatalf("all = %v", all)
	}
}

func TestHealthCheck(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	if !c.HealthCheck(context.Background()) {
		t.Fatal("expected healthy")
	}

	bad := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if bad.HealthCheck(context.Background()) {
		t.Fatal("expected unhealthy")
	}

	down := NewClient("http://127.0.0.1:1", "token123")
	if down.HealthCheck(context.Background()) {
		t.Fatal("unreachable endpoint must report unhealthy, not error")
	}
}
