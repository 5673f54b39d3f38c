package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	. "bourse/internal/common"
)

var (
	placeTicker string
	placeSide   string
	placePrice  int64
	placeQty    string
	placeFollow bool
)

func init() {
	rootCmd.AddCommand(placeCmd)
	placeCmd.Flags().StringVar(&placeTicker, "ticker", "ACME", "Ticker symbol (max 8 chars)")
	placeCmd.Flags().StringVar(&placeSide, "side", "buy", "Order side: 'buy' or 'sell'")
	placeCmd.Flags().Int64Var(&placePrice, "price", 100, "Limit price in ticks")
	placeCmd.Flags().StringVar(&placeQty, "qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	placeCmd.Flags().BoolVar(&placeFollow, "follow", false, "Keep printing execution reports until the server disconnects")
}

var placeCmd = &cobra.Command{
	Use:   "place",
	Short: "Place one limit order per quantity",
	RunE: func(cmd *cobra.Command, args []string) error {
		side, err := ParseSide(placeSide)
		if err != nil {
			return err
		}
		quantities, err := parseQuantities(placeQty)
		if err != nil {
			return err
		}

		client, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		for _, q := range quantities {
			if err := client.PlaceOrder(placeTicker, side, placePrice, q); err != nil {
				return fmt.Errorf("unable to place order (qty %d): %w", q, err)
			}
			if _, err := await(client); err != nil {
				return err
			}
		}

		if !placeFollow {
			return nil
		}
		for {
			r, err := client.ReadReport()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(r)
		}
	},
}

// parseQuantities parses a comma separated list of positive quantities.
func parseQuantities(s string) ([]uint64, error) {
	var quantities []uint64
	for _, part := range strings.Split(s, ",") {
		q, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil || q == 0 {
			return nil, fmt.Errorf("invalid quantity %q", part)
		}
		quantities = append(quantities, q)
	}
	return quantities, nil
}
