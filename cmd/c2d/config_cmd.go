package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/config"
	"github.com/edgefleet/c2d/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration settings",
	Long: `Manage configuration settings.

Settings are read from .c2d/config.yaml (nearest ancestor of the working
directory), then C2D_* environment variables, then command-line flags.

Examples:
  c2d config set scheduler.max-candidates 50
  c2d config get storage.backend
  c2d config list`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in .c2d/config.yaml",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		path, err := config.SetYamlConfig(key, value)
		if err != nil {
			FatalErrorRespectJSON(err, "config set failed")
		}
		reload := ""
		if k := config.LookupKey(key); k != nil && k.Reloadable {
			reload = " (applied by a running server)"
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"key": key, "value": value, "file": path})
			return
		}
		fmt.Printf("%s Set %s = %s in %s%s\n", ui.RenderPass(ui.IconPass), key, value, path, reload)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the effective value of a configuration key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		k := config.LookupKey(key)
		if k == nil {
			FatalErrorRespectJSON(config.ValidateKey(key, ""), "config get failed")
		}
		value := config.AllSettings()[key]
		if jsonOutput {
			outputJSON(map[string]interface{}{"key": key, "value": value, "set": config.IsSet(key)})
			return
		}
		if value == nil {
			fmt.Println(ui.RenderMuted("(not set)"))
			return
		}
		fmt.Println(value)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every configuration key with its effective value",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings := config.AllSettings()
		if jsonOutput {
			outputJSON(settings)
			return
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Printf("%s\n\n", ui.RenderMuted("Config file: "+f))
		}
		for _, k := range keys {
			fmt.Printf("  %s = %v\n", ui.PadRight(k, 28), settings[k])
		}
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "Describe every supported configuration key",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			type keyDoc struct {
				Key         string      `json:"key"`
				Env         string      `json:"env"`
				Description string      `json:"description"`
				Default     interface{} `json:"default,omitempty"`
				Reloadable  bool        `json:"reloadable,omitempty"`
			}
			docs := make([]keyDoc, 0, len(config.Keys))
			for _, k := range config.Keys {
				docs = append(docs, keyDoc{k.Key, k.EnvVar(), k.Description, k.Default, k.Reloadable})
			}
			outputJSON(docs)
			return
		}
		for _, k := range config.Keys {
			fmt.Printf("%s  %s\n", ui.RenderAccent(k.Key), ui.RenderMuted(k.EnvVar()))
			fmt.Printf("    %s\n", k.Description)
			if k.Default != nil {
				fmt.Printf("    default: %v\n", k.Default)
			}
		}
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd, configKeysCmd)
	rootCmd.AddCommand(configCmd)
}
