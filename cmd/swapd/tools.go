package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/policy"
	"go.dedis.ch/htlcswap/query"
)

func paramsFromFlags(c *cli.Context) (htlc.Params, error) {
	kind, err := ledger.ParseKind(c.String(optionLedger.Name))
	if err != nil {
		return htlc.Params{}, err
	}
	refund, err := htlc.ParseIdentity(c.String(optionRefund.Name))
	if err != nil {
		return htlc.Params{}, fmt.Errorf("refund identity: %w", err)
	}
	success, err := htlc.ParseIdentity(c.String(optionSuccess.Name))
	if err != nil {
		return htlc.Params{}, fmt.Errorf("success identity: %w", err)
	}
	hash, err := htlc.ParseSecretHash(c.String(optionSecretHash.Name))
	if err != nil {
		return htlc.Params{}, err
	}
	p := htlc.Params{
		SecretHash:      hash,
		RefundIdentity:  refund,
		SuccessIdentity: success,
		Lock:            htlc.LockDuration(c.Uint64(optionLock.Name)),
	}

	quantity := c.String(optionQuantity.Name)
	switch kind {
	case ledger.KindBitcoin:
		p.Ledger = ledger.Bitcoin{Network: ledger.Network(c.String(optionNetwork.Name))}
		p.Asset, err = ledger.ParseSatoshi(quantity)
	default:
		p.Ledger = ledger.Ethereum{ChainID: c.Uint64(optionChainID.Name)}
		if token := c.String(optionToken.Name); token != "" {
			if !common.IsHexAddress(token) {
				return htlc.Params{}, fmt.Errorf("invalid token contract %q", token)
			}
			amount, ok := new(big.Int).SetString(quantity, 10)
			if !ok {
				return htlc.Params{}, fmt.Errorf("invalid token quantity %q", quantity)
			}
			p.Asset = ledger.Erc20Quantity{Token: common.HexToAddress(token), Amount: amount}
		} else {
			p.Asset, err = ledger.ParseWei(quantity)
		}
	}
	if err != nil {
		return htlc.Params{}, err
	}
	return p, p.Validate()
}

// printHTLC prints the contract and the query that finds its deployment.
func printHTLC(c *cli.Context) error {
	p, err := paramsFromFlags(c)
	if err != nil {
		return err
	}
	code, err := p.Bytecode()
	if err != nil {
		return err
	}
	variant, _ := p.Variant()
	out := c.App.Writer

	fmt.Fprintf(out, "variant:  %s\n", variant)
	fmt.Fprintf(out, "bytecode: %s\n", hex.EncodeToString(code))
	if variant == htlc.VariantBitcoin {
		addr, err := p.BitcoinAddress()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "address:  %s\n", addr.EncodeAddress())
	}

	b, err := query.NewBuilder(p)
	if err != nil {
		return err
	}
	q, err := b.Deployed()
	if err != nil {
		return err
	}
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "query:    %s\n", data)
	return nil
}

func printPolicy(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one policy file, got %d arguments", c.NArg())
	}
	p, err := policy.Load(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprint(c.App.Writer, policy.Display(p.File()))
	for _, d := range p.Directions() {
		fmt.Fprintf(c.App.Writer, "accepts %s -> %s\n", d.Source, d.Target)
	}
	return nil
}

func printSecret(c *cli.Context) error {
	secret, err := htlc.NewSecret()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "secret:      %s\n", secret)
	fmt.Fprintf(c.App.Writer, "secret hash: %s\n", secret.Hash())
	return nil
}
