// veild runs the shielded-pool application node. An external consensus
// engine drives it through the block lifecycle over a local HTTP shim; the
// consensus protocol itself lives outside this process.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "veild",
		Short:         "veil shielded-pool application node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "veild.json", "path to node config")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "write a default config and empty genesis file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath)
		},
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "start the node and serve the consensus lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			return runStart(cfg)
		},
	}

	root.AddCommand(initCmd, startCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "veild:", err)
		os.Exit(1)
	}
}

func runInit(configPath string) error {
	cfg := DefaultConfig()
	if err := SaveConfig(cfg, configPath); err != nil {
		return err
	}
	f, err := os.Create(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("create genesis file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}{"allocations": []interface{}{}}); err != nil {
		return err
	}
	fmt.Printf("wrote %s and %s\n", configPath, cfg.GenesisPath)
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
