package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	optionConfig = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to the node's YAML config file",
		EnvVars: []string{"HTLCSWAP_CONFIG"},
	}

	optionLedger = &cli.StringFlag{
		Name:     "ledger",
		Usage:    "ledger the HTLC lives on: bitcoin or ethereum",
		Required: true,
	}
	optionNetwork = &cli.StringFlag{
		Name:  "network",
		Usage: "bitcoin network",
		Value: "regtest",
	}
	optionChainID = &cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "ethereum chain id",
		Value: 1337,
	}
	optionQuantity = &cli.StringFlag{
		Name:     "quantity",
		Usage:    "locked amount in satoshi, wei or token units",
		Required: true,
	}
	optionToken = &cli.StringFlag{
		Name:  "token",
		Usage: "ERC20 contract; locks tokens instead of ether",
	}
	optionRefund = &cli.StringFlag{
		Name:     "refund",
		Usage:    "refund identity",
		Required: true,
	}
	optionSuccess = &cli.StringFlag{
		Name:     "success",
		Usage:    "success identity",
		Required: true,
	}
	optionSecretHash = &cli.StringFlag{
		Name:     "secret-hash",
		Usage:    "hex SHA-256 of the secret",
		Required: true,
	}
	optionLock = &cli.Uint64Flag{
		Name:     "lock",
		Usage:    "lock duration, blocks on bitcoin and seconds on ethereum",
		Required: true,
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "swapd",
		Usage: "Execute HTLC atomic swaps between Bitcoin and Ethereum",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the ledger query service and answer swap requests",
				Flags: []cli.Flag{optionConfig},
				Action: func(c *cli.Context) error {
					return serve(c)
				},
			},
			{
				Name:  "htlc",
				Usage: "Print the contract derived from HTLC parameters",
				Flags: []cli.Flag{
					optionLedger, optionNetwork, optionChainID, optionQuantity, optionToken,
					optionRefund, optionSuccess, optionSecretHash, optionLock,
				},
				Action: func(c *cli.Context) error {
					return printHTLC(c)
				},
			},
			{
				Name:      "policy",
				Usage:     "Check an acceptance policy and print its rules",
				ArgsUsage: "<file>",
				Action: func(c *cli.Context) error {
					return printPolicy(c)
				},
			},
			{
				Name:  "secret",
				Usage: "Generate a secret and its hash",
				Action: func(c *cli.Context) error {
					return printSecret(c)
				},
			},
		},
	}
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "exited with error: %v\n", err)
		os.Exit(1)
	}
}
