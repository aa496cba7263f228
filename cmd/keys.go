package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"talkai-gateway/core"
)

var initKeysFlags struct {
	output  string
	force   bool
	encrypt bool
}

var initKeysCmd = &cobra.Command{
	Use:   "init-keys",
	Short: "Create the key file with a freshly generated key",
	Long: `Create client_api_keys.json containing one newly generated
"sk-talkai-<hex>" key. An existing file is left untouched unless --force is set.

With --encrypt the key is stored as an "enc:" AES-GCM value using
TALKAI_SECRET_KEY (16, 24 or 32 bytes); the plain key is printed once.`,
	RunE: initKeys,
}

func init() {
	rootCmd.AddCommand(initKeysCmd)

	initKeysCmd.Flags().StringVarP(&initKeysFlags.output, "output", "o", "", "key file path (default: upstream_key_file from config)")
	initKeysCmd.Flags().BoolVar(&initKeysFlags.force, "force", false, "overwrite an existing key file")
	initKeysCmd.Flags().BoolVar(&initKeysFlags.encrypt, "encrypt", false, "store the key encrypted with TALKAI_SECRET_KEY")
}

// newGatewayKey sk-talkai-<uuid hex>
func newGatewayKey() string {
	return "sk-talkai-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func initKeys(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := initKeysFlags.output
	if path == "" {
		path = cfg.UpstreamKeyFile
	}

	if _, err := os.Stat(path); err == nil && !initKeysFlags.force {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, nothing to do (use --force to overwrite)\n", path)
		return nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	key := newGatewayKey()
	stored := key
	if initKeysFlags.encrypt {
		if cfg.SecretKey == "" {
			return errors.New("--encrypt requires TALKAI_SECRET_KEY")
		}
		sp, err := core.NewSecretProvider(cfg.SecretKey)
		if err != nil {
			return err
		}
		if stored, err = sp.Encrypt(key); err != nil {
			return fmt.Errorf("encrypt key: %w", err)
		}
	}

	data, err := json.Marshal([]string{stored})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nKey: %s\n", path, key)
	return nil
}
