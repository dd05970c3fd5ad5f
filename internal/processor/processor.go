// Package processor сводит данные wgrest API и локальных конфигов в
// строки, готовые к записи в зеркало.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgmirror/internal/logs"
	"wgmirror/internal/models"
	"wgmirror/internal/wgconf"
	"wgmirror/internal/wgrest"
)

// Gateway — запасной источник публичных ключей, когда локальный вывод
// через wg pubkey не удался.
type Gateway interface {
	GetInterfaces(ctx context.Context) (map[string]wgrest.Device, error)
}

// Encryptor — контракт шифрования секретов (nil при пустом входе).
type Encryptor interface {
	Encrypt(plaintext string) (*string, error)
}

// HintFunc отдаёт сетевые параметры интерфейса из конфигурации сервиса.
type HintFunc func(name string) wgconf.SubnetHint

// Options — исторически неоднозначные варианты поведения, вынесены
// в явные флаги вместо угадывания.
type Options struct {
	PreferConfigListenPort bool // порт из файла важнее порта из API
	StoreRawConfig         bool // хранить полный текст конфига рядом со структурой
}

type Processor struct {
	cipher Encryptor
	hints  HintFunc
	opts   Options

	// подменяется в тестах; по умолчанию — вывод через wg pubkey
	derivePublicKey func(ctx context.Context, privateKey string) (string, error)
}

func New(cipher Encryptor, hints HintFunc, opts Options) *Processor {
	return &Processor{
		cipher:          cipher,
		hints:           hints,
		opts:            opts,
		derivePublicKey: wgconf.DerivePublicKey,
	}
}

// ServerKeys обрабатывает серверные ключи из конфигов: best-effort по
// каждому интерфейсу, пропуски логируются, остальные не страдают.
func (p *Processor) ServerKeys(ctx context.Context, configs map[string]string, gw Gateway) []models.ServerKey {
	var out []models.ServerKey

	for name, raw := range configs {
		if raw == "" {
			continue
		}
		details := wgconf.Parse(raw, name, p.hints(name))
		if details.PrivateKey == "" {
			logs.Logger.Warnf("no private key in config for %s", name)
			continue
		}

		pub, err := p.derivePublicKey(ctx, details.PrivateKey)
		if err != nil {
			logs.Logger.Warnf("derive public key for %s failed (%v), falling back to API", name, err)
			pub = p.publicKeyFromAPI(ctx, name, gw)
		}
		if pub == "" {
			logs.Logger.Errorf("could not determine public key for %s, skipping", name)
			continue
		}

		enc, err := p.cipher.Encrypt(details.PrivateKey)
		if err != nil || enc == nil {
			// plaintext в базу не попадает никогда
			logs.Logger.Errorf("encrypt private key for %s failed: %v", name, err)
			continue
		}

		out = append(out, models.ServerKey{
			InterfaceName: name,
			PrivateKey:    *enc,
			PublicKey:     pub,
			GeneratedAt:   time.Now().UTC(),
		})
	}
	return out
}

// Interfaces сводит интерфейсы API с полями из конфигов: публичный ключ и
// listen port — из API (порт из файла — только по флагу или когда API
// его не знает), адрес/subnet/endpoint/приватный ключ — из файла.
func (p *Processor) Interfaces(apiDevices map[string]wgrest.Device, configs map[string]string) []models.Interface {
	out := make([]models.Interface, 0, len(apiDevices))

	for name, dev := range apiDevices {
		details := wgconf.Parse(configs[name], name, p.hints(name))

		enc, err := p.cipher.Encrypt(details.PrivateKey)
		if err != nil {
			logs.Logger.Errorf("encrypt private key for interface %s failed: %v", name, err)
			enc = nil
		}

		port := dev.ListenPort
		if details.HasListenPort && (p.opts.PreferConfigListenPort || port == 0) {
			port = details.ListenPort
		}

		rec := models.Interface{
			Name:        name,
			PrivateKey:  enc,
			PublicKey:   dev.PublicKey,
			Address:     details.Address,
			ListenPort:  port,
			Subnet:      details.Subnet,
			Endpoint:    details.Endpoint,
			LastUpdated: time.Now().UTC(),
		}
		if p.opts.StoreRawConfig {
			if raw, ok := configs[name]; ok {
				rec.RawConfig = &raw
			}
		}
		out = append(out, rec)
	}
	return out
}

// Peers нормализует пиров всех интерфейсов. Один кривой пир пропускается
// с логом и не валит остальных. Возвращает строки и счётчики по интерфейсам.
func (p *Processor) Peers(allPeers map[string][]wgrest.Peer) ([]models.Peer, map[string]int) {
	var out []models.Peer
	counts := make(map[string]int, len(allPeers))
	total := 0

	for name, peers := range allPeers {
		counts[name] = 0
		for _, peer := range peers {
			rec, err := p.processPeer(peer, name, total+1)
			if err != nil {
				logs.Logger.Errorf("skipping peer on %s: %v", name, err)
				continue
			}
			out = append(out, *rec)
			counts[name]++
			total++
		}
	}

	logs.Logger.Infof("processed %d peers across %d interfaces", total, len(allPeers))
	return out, counts
}

func (p *Processor) processPeer(peer wgrest.Peer, ifaceName string, seq int) (*models.Peer, error) {
	if peer.PublicKey != "" {
		if _, err := wgtypes.ParseKey(peer.PublicKey); err != nil {
			return nil, fmt.Errorf("invalid public key %q: %w", truncate(peer.PublicKey, 20), err)
		}
	}

	var psk *string
	if strings.TrimSpace(peer.PresharedKey) != "" {
		enc, err := p.cipher.Encrypt(peer.PresharedKey)
		if err != nil {
			logs.Logger.Warnf("encrypt preshared key for peer %s failed: %v", truncate(peer.PublicKey, 20), err)
		} else {
			psk = enc
		}
	}

	allowed := normalizeAllowedIPs(peer.AllowedIPs)
	allowedJSON, err := json.Marshal(allowed)
	if err != nil {
		return nil, fmt.Errorf("marshal allowed ips: %w", err)
	}

	enabled := true
	if peer.Enabled != nil {
		enabled = *peer.Enabled
	}

	return &models.Peer{
		InterfaceName:       ifaceName,
		Name:                truncate(peerName(peer, seq), 100),
		PublicKey:           peer.PublicKey,
		PresharedKey:        psk,
		AllowedIPs:          allowedJSON,
		Endpoint:            normalizeEndpoint(peer.Endpoint),
		PersistentKeepalive: normalizeKeepalive(peer.PersistentKeepalive),
		Enabled:             enabled,
	}, nil
}

// peerName: явное имя → peer_<последние 8 символов ключа> → peer_<номер>.
func peerName(peer wgrest.Peer, seq int) string {
	if peer.Name != "" {
		return peer.Name
	}
	if len(peer.PublicKey) >= 8 {
		return "peer_" + peer.PublicKey[len(peer.PublicKey)-8:]
	}
	return fmt.Sprintf("peer_%d", seq)
}

// normalizeAllowedIPs принимает готовый список либо CSV-строку и приводит
// к упорядоченному списку непустых CIDR.
func normalizeAllowedIPs(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{}
	case []string:
		return trimNonEmpty(val)
	case []any:
		items := make([]string, 0, len(val))
		for _, x := range val {
			if s, ok := x.(string); ok {
				items = append(items, s)
			}
		}
		return trimNonEmpty(items)
	case string:
		return trimNonEmpty(strings.Split(val, ","))
	default:
		logs.Logger.Warnf("unexpected allowed_ips type %T", v)
		return []string{}
	}
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeKeepalive: положительное целое или nil.
func normalizeKeepalive(v any) *int {
	var n int
	switch val := v.(type) {
	case nil:
		return nil
	case int:
		n = val
	case float64:
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			logs.Logger.Warnf("invalid keepalive value %q", val)
			return nil
		}
		n = parsed
	default:
		logs.Logger.Warnf("unexpected keepalive type %T", v)
		return nil
	}
	if n <= 0 {
		return nil
	}
	return &n
}

func normalizeEndpoint(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return &endpoint
}

func (p *Processor) publicKeyFromAPI(ctx context.Context, name string, gw Gateway) string {
	if gw == nil {
		return ""
	}
	devices, err := gw.GetInterfaces(ctx)
	if err != nil {
		logs.Logger.Errorf("public key fallback via API for %s failed: %v", name, err)
		return ""
	}
	return devices[name].PublicKey
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
