// Утилита оператора: чтение зеркала с расшифровкой секретов для
// восстановления туннелей. Использует тот же вывод ключа, что и сервис.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wgmirror/config"
	"wgmirror/internal/db"
	"wgmirror/internal/logs"
	"wgmirror/internal/models"
	"wgmirror/internal/secrets"

	"gorm.io/gorm"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type env struct {
	db     *gorm.DB
	cipher *secrets.Cipher
}

func openEnv() (*env, error) {
	logs.Init(logs.Options{Level: "error"})
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	gdb, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	cipher, err := secrets.New(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &env{db: gdb, cipher: cipher}, nil
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "wgmirror-decrypt",
		Short:        "Read the WireGuard mirror with secrets decrypted",
		SilenceUsage: true,
	}
	cmd.AddCommand(serverKeyCmd(), interfacesCmd(), peersCmd())
	return cmd
}

func serverKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server-key <interface>",
		Short: "Print the decrypted server private key of an interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			var key models.ServerKey
			err = e.db.WithContext(context.Background()).
				Where("interface_name = ?", args[0]).First(&key).Error
			if err != nil {
				return fmt.Errorf("server key for %s: %w", args[0], err)
			}
			fmt.Printf("interface:   %s\n", key.InterfaceName)
			fmt.Printf("public_key:  %s\n", key.PublicKey)
			fmt.Printf("private_key: %s\n", e.cipher.DecryptLenient(key.PrivateKey))
			return nil
		},
	}
}

func interfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "Print all interfaces with decrypted private keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			var ifaces []models.Interface
			if err := e.db.WithContext(context.Background()).Order("name").Find(&ifaces).Error; err != nil {
				return err
			}
			for _, it := range ifaces {
				priv := ""
				if it.PrivateKey != nil {
					priv = e.cipher.DecryptLenient(*it.PrivateKey)
				}
				fmt.Printf("%s: address=%s listen_port=%d subnet=%s endpoint=%s\n",
					it.Name, it.Address, it.ListenPort, it.Subnet, it.Endpoint)
				fmt.Printf("  public_key:  %s\n", it.PublicKey)
				fmt.Printf("  private_key: %s\n", priv)
			}
			return nil
		},
	}
}

func peersCmd() *cobra.Command {
	var iface string
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Print peers with decrypted preshared keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			q := e.db.WithContext(context.Background()).Order("interface_name, name")
			if iface != "" {
				q = q.Where("interface_name = ?", iface)
			}
			var peers []models.Peer
			if err := q.Find(&peers).Error; err != nil {
				return err
			}
			for _, p := range peers {
				var allowed []string
				_ = json.Unmarshal(p.AllowedIPs, &allowed)
				psk := ""
				if p.PresharedKey != nil {
					psk = e.cipher.DecryptLenient(*p.PresharedKey)
				}
				endpoint := ""
				if p.Endpoint != nil {
					endpoint = *p.Endpoint
				}
				fmt.Printf("%s/%s: public_key=%s allowed_ips=%v endpoint=%s psk=%s\n",
					p.InterfaceName, p.Name, p.PublicKey, allowed, endpoint, psk)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&iface, "interface", "", "limit to one interface")
	return cmd
}
