package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bourse/internal/net"
)

const dialTimeout = 5 * time.Second

var (
	serverAddr string
	owner      string
)

var rootCmd = &cobra.Command{
	Use:          "client",
	Short:        "Order entry client for the exchange",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "127.0.0.1:9001", "Address of the exchange server")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "Account to trade as (compulsory)")
	_ = rootCmd.MarkPersistentFlagRequired("owner")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func connect() (*net.Client, error) {
	client, err := net.Dial(serverAddr, owner, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", serverAddr, err)
	}
	fmt.Printf("Connected to %s as '%s'\n", serverAddr, owner)
	return client, nil
}

// await prints the response to the last request and any execution reports
// that arrived before it.
func await(client *net.Client) (net.Report, error) {
	response, executions, err := client.AwaitResponse()
	for _, r := range executions {
		fmt.Println(r)
	}
	if err != nil {
		return net.Report{}, err
	}
	fmt.Println(response)
	return response, nil
}
