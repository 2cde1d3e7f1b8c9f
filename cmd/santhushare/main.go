package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"santhushare/internal/config"
)

var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "santhushare",
	Short: "Password-protected file sharing over the local network",
	Long: `SanthuShare turns this machine into a file drop for the local network.

Peers open the printed URL (or scan the QR code), sign in with the shared
password and can upload files, browse folders, download files and fetch
whole folders as zip archives.

  santhushare serve --password secret
  santhushare passwd -p secret`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.santhushare.yaml)")

	viper.SetEnvPrefix("SANTHUSHARE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	d := config.Default()
	viper.SetDefault("bind", d.Bind)
	viper.SetDefault("port", d.Port)
	viper.SetDefault("password", "")
	viper.SetDefault("password_bcrypt", "")
	viper.SetDefault("upload_dir", d.UploadDir)
	viper.SetDefault("fallback_dir", d.FallbackDir)
	viper.SetDefault("bind_retries", d.BindRetries)
	viper.SetDefault("retry_delay", d.RetryDelay)
	viper.SetDefault("webdav", d.WebDAV)
	viper.SetDefault("zstd", d.Zstd)
	viper.SetDefault("mdns", d.MDNS)
	viper.SetDefault("thumb_size", d.ThumbSize)
	viper.SetDefault("max_memory", d.MaxMemory)

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd, passwdCmd, versionCmd)
}

// initConfig reads in the config file if there is one.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("warning: no home directory: %v", err)
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".santhushare")
	}
	if err := viper.ReadInConfig(); err == nil {
		log.Printf("using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		log.Fatalf("read config %s: %v", cfgFile, err)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "santhushare", version)
	},
}

// withDefaultCommand runs serve when no subcommand is named.
func withDefaultCommand(args []string) []string {
	if len(args) == 0 {
		return []string{"serve"}
	}
	switch args[0] {
	case "-h", "--help", "help", "completion", "__complete":
		return args
	}
	if strings.HasPrefix(args[0], "-") {
		return append([]string{"serve"}, args...)
	}
	return args
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	rootCmd.SetArgs(withDefaultCommand(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
