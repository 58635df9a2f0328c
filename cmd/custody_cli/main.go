// Command line tool for users of the custody server: where to deposit,
// announcing a deposit and following deposits and releases.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/octopus-network/omnity-interoperability-sub003/custody"
	"github.com/octopus-network/omnity-interoperability-sub003/reporter"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()
	viper.SetDefault("SERVER_IP", "127.0.0.1")
	viper.SetDefault("SERVER_PORT", "8080")

	var target, receiver, token string
	reader := func() *reporter.HttpReader {
		return reporter.NewHttpReader(viper.GetString("SERVER_IP"), viper.GetString("SERVER_PORT"))
	}

	root := &cobra.Command{Use: "custody-cli", Short: "Talk to a custody server", SilenceUsage: true}
	root.PersistentFlags().StringVar(&target, "target", "", "target chain id")
	root.PersistentFlags().StringVar(&receiver, "receiver", "", "receiver on the target chain")
	root.PersistentFlags().StringVar(&token, "token", "", "token id")

	root.AddCommand(&cobra.Command{
		Use:   "address",
		Short: "Print the custody address to deposit to",
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := reader().GetCustodyAddress(target, receiver, token)
			if err != nil {
				return err
			}
			fmt.Println(addr)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "fee",
		Short: "Print the service fee, in sats, of deposits to the target chain",
		RunE: func(c *cobra.Command, args []string) error {
			fee, err := reader().GetFee(target)
			if err != nil {
				return err
			}
			fmt.Println(fee)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "deposit <tx_id> <amount>",
		Short: "Announce a deposit made to the custody address",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return reader().GenerateTicket(&custody.GenTicketArgs{
				TargetChainId: target,
				Receiver:      receiver,
				Token:         token,
				TxId:          args[0],
				Amount:        args[1],
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "deposit-status <tx_id>",
		Short: "Print the status of a deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			status, err := reader().GetDepositStatus(args[0])
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "release-status <ticket_id>",
		Short: "Print the status and the transaction of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			status, txId, err := reader().GetReleaseStatus(args[0])
			if err != nil {
				return err
			}
			fmt.Println(status, txId)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
