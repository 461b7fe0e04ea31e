package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emrgen/docsync/internal/config"
	"github.com/emrgen/docsync/internal/identity"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFileName = "docsync.yml"
)

var contextCommand = &cobra.Command{
	Use:   "context",
	Short: "context commands",
}

func init() {
	contextCommand.AddCommand(setContextCommand())
	contextCommand.AddCommand(keygenContextCommand())
	contextCommand.AddCommand(currentContextCommand())
	contextCommand.AddCommand(resetContextCommand())
}

func contextPath() string {
	return filepath.Join(config.ContextDir, configFileName)
}

// readContext loads the saved context file, if any, into a fresh viper instance.
func readContext() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(contextPath())
	v.SetConfigType("yml")
	_ = v.ReadInConfig()
	return v
}

func writeContext(v *viper.Viper) error {
	if err := os.MkdirAll(config.ContextDir, os.ModePerm); err != nil {
		return err
	}
	return v.WriteConfigAs(contextPath())
}

// saves the relay and identity to ./.tmp/docsync.yml
func setContextCommand() *cobra.Command {
	var relay string
	var key string

	command := &cobra.Command{
		Use:   "set",
		Short: "set context",
		Run: func(cmd *cobra.Command, args []string) {
			if relay == "" && key == "" {
				color.Red(`missing: --relay or --key`)
				return
			}

			v := readContext()
			if relay != "" {
				v.Set("relay.url", relay)
			}
			if key != "" {
				if _, err := identity.FromHex(key); err != nil {
					color.Red("invalid key: %v", err)
					return
				}
				v.Set("identity.key", key)
			}

			if err := writeContext(v); err != nil {
				fmt.Println("error writing config file: ", err)
			} else {
				fmt.Println("context saved")
			}
		},
	}

	command.Flags().StringVarP(&relay, "relay", "r", "", "relay websocket url")
	command.Flags().StringVarP(&key, "key", "k", "", "hex encoded ed25519 seed")

	return command
}

func keygenContextCommand() *cobra.Command {
	var force bool

	command := &cobra.Command{
		Use:   "keygen",
		Short: "generate a signing identity and save it to the context",
		Run: func(cmd *cobra.Command, args []string) {
			v := readContext()
			if v.GetString("identity.key") != "" && !force {
				color.Yellow("an identity already exists, use --force to replace it")
				return
			}

			signer, err := identity.Generate()
			if err != nil {
				color.Red("failed to generate key: %v", err)
				return
			}
			v.Set("identity.key", signer.Seed())

			if err := writeContext(v); err != nil {
				fmt.Println("error writing config file: ", err)
				return
			}
			fmt.Println("public key:", signer.PublicKey())
		},
	}

	command.Flags().BoolVarP(&force, "force", "f", false, "replace an existing identity")

	return command
}

func currentContextCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "current",
		Short: "current context",
		Run: func(cmd *cobra.Command, args []string) {
			v := readContext()

			pubkey := ""
			if key := v.GetString("identity.key"); key != "" {
				if signer, err := identity.FromHex(key); err == nil {
					pubkey = signer.PublicKey()
				}
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Relay", "Public Key"})
			table.Append([]string{v.GetString("relay.url"), pubkey})
			table.Render()
		},
	}

	return command
}

func resetContextCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "reset",
		Short: "reset context",
		Run: func(cmd *cobra.Command, args []string) {
			err := os.Remove(contextPath())
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				fmt.Println("error removing config file: ", err)
				return
			}
			fmt.Println("context reset")
		},
	}

	return command
}
