package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rdpwake/rdpwake/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Init writes a fully commented default configuration to the default
location ($XDG_CONFIG_HOME/rdpwake/config.yaml), or to the path given
with --config. Existing files are preserved unless --force is set.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if !initForce && config.DefaultConfigExists() && path == config.GetDefaultConfigPath() {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	fmt.Printf("wrote default configuration to %s\n", path)
	return nil
}
