package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	serverKey   = "server"
	tokenKey    = "admin_token"
	usernameKey = "admin_username"
	passwordKey = "admin_password"
)

func newRootCmd(out io.Writer) *cobra.Command {
	v := viper.New()
	var cfgFile string
	var client *apiClient

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Control a running twitch-chat-metrics service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cfgFile); err != nil {
				return err
			}
			client = newAPIClient(v.GetString(serverKey), v.GetString(tokenKey), v.GetString(usernameKey), v.GetString(passwordKey))
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chatctl.yaml)")
	flags.String("server", "http://localhost:8080", "base URL of the API")
	flags.String("token", "", "admin token (X-Admin-Token)")
	flags.String("username", "", "admin basic auth username")
	flags.String("password", "", "admin basic auth password")
	_ = v.BindPFlag(serverKey, flags.Lookup("server"))
	_ = v.BindPFlag(tokenKey, flags.Lookup("token"))
	_ = v.BindPFlag(usernameKey, flags.Lookup("username"))
	_ = v.BindPFlag(passwordKey, flags.Lookup("password"))

	get := func() *apiClient { return client }
	root.AddCommand(
		newStatusCmd(get),
		newOverviewCmd(get),
		newGiveawayCmd(get),
		newChannelCmd(get),
	)
	return root
}

// loadConfig layers the optional config file and CHATCTL_* env vars under the flags.
func loadConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("chatctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		v.AddConfigPath(home)
		v.SetConfigName(".chatctl")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", filepath.Clean(v.ConfigFileUsed()), err)
	}
	return nil
}
