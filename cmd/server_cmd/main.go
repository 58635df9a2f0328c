package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/octopus-network/omnity-interoperability-sub003/cmd"
	"github.com/octopus-network/omnity-interoperability-sub003/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "CUSTODY_CONFIG"
)

func main() {
	root := &cobra.Command{
		Use:          "custody",
		Short:        "Bitcoin and runes custody server",
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return loadConfig()
		},
	}
	root.PersistentFlags().String("config", "", "configuration file, defaults to $"+ENV_CONFIG_FILE_PATH)
	viper.BindPFlag(ENV_CONFIG_FILE_PATH, root.PersistentFlags().Lookup("config"))

	root.AddCommand(serveCmd(), replayCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the custody engine, the hub syncer and the http service",
		RunE: func(c *cobra.Command, args []string) error {
			logconfig.ConfigProductionLogger(viper.GetString("LOG_FILE"))
			if level := viper.GetString("LOG_LEVEL"); level != "" {
				logconfig.SetLevel(level)
			}

			csc := PrepareCustodyServerConfig()
			fmt.Println("Starting custody server... press Ctrl+C to kill the server")
			// Start server and block.
			cmd.StartCustodyServerAndWait(csc)
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log, print a state summary and check the snapshot",
		RunE: func(c *cobra.Command, args []string) error {
			logconfig.ConfigInfoLogger()
			report, err := cmd.ReplayLog(viper.GetString("DB_FILE_PATH"), viper.GetString("SNAPSHOT_FILE_PATH"))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if report.Snapshot == "mismatch" {
				return fmt.Errorf("snapshot differs from the replayed log")
			}
			return nil
		},
	}
}

// loadConfig reads environment variables and, when one is given, the
// configuration file. Environment variables win.
func loadConfig() error {
	// Tool to read environment variables
	viper.AutomaticEnv()
	viper.SetDefault("CHAIN_ID", "Bitcoin")
	viper.SetDefault("BTC_CHAIN_CONFIG", "regtest")
	viper.SetDefault("HTTP_IP", "0.0.0.0")
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("MIN_RELEASE_AMOUNT", cmd.DefaultMinReleaseAmount)
	viper.SetDefault("MAX_CONCURRENT_PENDING_REQUESTS", cmd.DefaultMaxPendingRequests)

	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	if _config_file == "" {
		return nil
	}
	fmt.Printf("Custody server configuration file = %s\n", _config_file)
	if !cmd.FileExists(_config_file) {
		return fmt.Errorf("custody server configuration file not found: %s", _config_file)
	}
	viper.SetConfigFile(_config_file)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading configuration file: %w", err)
	}
	return nil
}

// PrepareCustodyServerConfig reads configuration variables and returns a CustodyServerConfig.
func PrepareCustodyServerConfig() *cmd.CustodyServerConfig {
	return &cmd.CustodyServerConfig{
		ChainId:    viper.GetString("CHAIN_ID"),
		BtcNetwork: viper.GetString("BTC_CHAIN_CONFIG"),
		// btc side
		BtcRpcServer:   viper.GetString("BTC_RPC_SERVER"),
		BtcRpcPort:     viper.GetString("BTC_RPC_PORT"),
		BtcRpcUsername: viper.GetString("BTC_RPC_USERNAME"),
		BtcRpcPwd:      viper.GetString("BTC_RPC_PWD"),
		// state side
		DbFilePath:       viper.GetString("DB_FILE_PATH"),
		SnapshotFilePath: viper.GetString("SNAPSHOT_FILE_PATH"),
		// collaborators
		SignerAddr: viper.GetString("SIGNER_ADDR"),
		SignerSeed: viper.GetString("SIGNER_SEED"),
		HubAddr:    viper.GetString("HUB_ADDR"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),

		MinReleaseAmount:   viper.GetUint64("MIN_RELEASE_AMOUNT"),
		MaxPendingRequests: viper.GetInt("MAX_CONCURRENT_PENDING_REQUESTS"),
	}
}
