// Package wgconf читает и разбирает локальные конфиги WireGuard
// (/etc/wireguard/<iface>.conf) и выводит публичный ключ из приватного.
package wgconf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgmirror/internal/logs"
)

// ErrKeyDerivation — невозможно получить публичный ключ (нет утилиты wg,
// таймаут, мусор на входе). Вызывающий обязан уйти на запасной источник.
var ErrKeyDerivation = errors.New("public key derivation failed")

// derivationTimeout ограничивает вызов внешней утилиты wg.
const derivationTimeout = 10 * time.Second

// SubnetHint — известные извне сетевые параметры интерфейса,
// подмешиваются в результат разбора при наличии Address в конфиге.
type SubnetHint struct {
	Subnet   string
	Endpoint string
	Address  string
}

// Details — структурированные поля одного конфига.
type Details struct {
	Address       string
	ListenPort    int
	HasListenPort bool
	PrivateKey    string
	PostUp        string
	PostDown      string
	Subnet        string
	Endpoint      string
}

// Source читает конфиги из фиксированного каталога.
type Source struct {
	Dir string
}

func NewSource(dir string) *Source { return &Source{Dir: dir} }

// ReadAll читает конфиги перечисленных интерфейсов. Отсутствующий файл —
// не ошибка: интерфейса просто нет в результате.
func (s *Source) ReadAll(names []string) map[string]string {
	configs := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(s.Dir, name+".conf")
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				logs.Logger.Warnf("config for %s not found at %s", name, path)
			} else {
				logs.Logger.Errorf("read config for %s: %v", name, err)
			}
			continue
		}
		configs[name] = string(raw)
	}
	logs.Logger.Infof("read %d of %d interface configs", len(configs), len(names))
	return configs
}

// Parse разбирает текст конфига в структурированные поля.
// Ключи без учёта регистра, выигрывает первое присваивание, строки с '#'
// игнорируются. Невалидный ListenPort логируется и опускается.
func Parse(raw, name string, hint SubnetHint) Details {
	var d Details
	seen := map[string]bool{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if seen[key] {
			continue
		}

		switch key {
		case "address":
			d.Address = value
		case "listenport":
			port, err := strconv.Atoi(value)
			if err != nil {
				logs.Logger.Warnf("invalid listen port %q for %s", value, name)
				continue // не помечаем seen: вдруг дальше валидное значение
			}
			d.ListenPort = port
			d.HasListenPort = true
		case "privatekey":
			d.PrivateKey = value
		case "postup":
			d.PostUp = value
		case "postdown":
			d.PostDown = value
		default:
			continue
		}
		seen[key] = true
	}

	// Подсказка с subnet/endpoint имеет смысл только при известном адресе.
	if d.Address != "" {
		if hint.Subnet != "" {
			d.Subnet = hint.Subnet
		}
		if hint.Endpoint != "" {
			d.Endpoint = hint.Endpoint
		}
		if hint.Address != "" {
			d.Address = hint.Address
		}
	}
	return d
}

// DerivePublicKey выводит публичный ключ через `wg pubkey` c жёстким
// таймаутом. Любой сбой (нет утилиты, таймаут, ненулевой код выхода,
// невалидный ключ) — ErrKeyDerivation, без паники наружу.
func DerivePublicKey(ctx context.Context, privateKey string) (string, error) {
	privateKey = strings.TrimSpace(privateKey)
	if privateKey == "" {
		return "", fmt.Errorf("%w: empty private key", ErrKeyDerivation)
	}
	// Валидация до запуска процесса: мусор не скармливаем утилите.
	if _, err := wgtypes.ParseKey(privateKey); err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, derivationTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "wg", "pubkey")
	cmd.Stdin = strings.NewReader(privateKey + "\n")
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: wg pubkey timed out", ErrKeyDerivation)
		}
		return "", fmt.Errorf("%w: wg pubkey: %v", ErrKeyDerivation, err)
	}

	pub := strings.TrimSpace(string(out))
	if _, err := wgtypes.ParseKey(pub); err != nil {
		return "", fmt.Errorf("%w: wg pubkey produced invalid key", ErrKeyDerivation)
	}
	return pub, nil
}
