package main

import (
	"github.com/spf13/cobra"
)

var (
	cancelTicker string
	cancelUUID   string
)

func init() {
	rootCmd.AddCommand(cancelCmd)
	cancelCmd.Flags().StringVar(&cancelTicker, "ticker", "ACME", "Ticker symbol of the order")
	cancelCmd.Flags().StringVar(&cancelUUID, "uuid", "", "UUID of the order to cancel")
	_ = cancelCmd.MarkFlagRequired("uuid")
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a resting order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.CancelOrder(cancelTicker, cancelUUID); err != nil {
			return err
		}
		_, err = await(client)
		return err
	},
}
