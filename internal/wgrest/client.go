// Package wgrest — типизированный клиент management-API wgrest.
package wgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wgmirror/internal/logs"
)

// Device — интерфейс в представлении wgrest (/v1/devices/).
type Device struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	ListenPort int    `json:"listen_port"`
}

// Peer — пир в представлении wgrest (/v1/devices/{name}/peers/).
// AllowedIPs и PersistentKeepalive приходят в разных формах в зависимости
// от версии wgrest (массив или CSV-строка; число или строка) — нормализация
// выполняется на этапе обработки, здесь поля остаются «как пришли».
type Peer struct {
	Name                string `json:"name"`
	PublicKey           string `json:"public_key"`
	PresharedKey        string `json:"preshared_key"`
	AllowedIPs          any    `json:"allowed_ips"`
	Endpoint            string `json:"endpoint"`
	PersistentKeepalive any    `json:"persistent_keepalive_interval"`
	Enabled             *bool  `json:"enabled"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// тело читаем, чтобы соединение вернулось в пул
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("wgrest %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("wgrest %s: decode: %w", path, err)
	}
	return resp.StatusCode, nil
}

// GetInterfaces возвращает все интерфейсы wgrest, индексированные по имени.
func (c *Client) GetInterfaces(ctx context.Context) (map[string]Device, error) {
	var devices []Device
	if _, err := c.get(ctx, "/v1/devices/", &devices); err != nil {
		return nil, err
	}
	out := make(map[string]Device, len(devices))
	for _, d := range devices {
		out[d.Name] = d
	}
	return out, nil
}

// GetPeers возвращает пиров интерфейса. 404 («интерфейс не знаком wgrest»)
// — это пустой список, а не ошибка.
func (c *Client) GetPeers(ctx context.Context, name string) ([]Peer, error) {
	var peers []Peer
	status, err := c.get(ctx, "/v1/devices/"+name+"/peers/", &peers)
	if err != nil {
		if status == http.StatusNotFound {
			logs.Logger.Warnf("wgrest: interface %s not found, treating as empty peer list", name)
			return []Peer{}, nil
		}
		return nil, err
	}
	return peers, nil
}

// GetAllPeers собирает пиров по всем именам. Любая ошибка, кроме 404
// конкретного интерфейса, прерывает весь сбор.
func (c *Client) GetAllPeers(ctx context.Context, names []string) (map[string][]Peer, error) {
	all := make(map[string][]Peer, len(names))
	for _, name := range names {
		peers, err := c.GetPeers(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("peers for %s: %w", name, err)
		}
		all[name] = peers
	}
	return all, nil
}

// HealthCheck — быстрый пробник доступности API, никогда не возвращает ошибку.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/devices/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}
