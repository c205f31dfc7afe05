package lqs

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/query"
)

// EthereumSource reads blocks from an Ethereum JSON-RPC node.
type EthereumSource struct {
	client *ethclient.Client
}

func DialEthereum(ctx context.Context, url string) (*EthereumSource, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum node: %w", err)
	}
	return &EthereumSource{client: client}, nil
}

func (*EthereumSource) Ledger() ledger.Kind {
	return ledger.KindEthereum
}

func (s *EthereumSource) Height(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// Transactions returns the transactions of the block at height. Transactions
// whose sender can't be recovered are skipped.
func (s *EthereumSource) Transactions(ctx context.Context, height uint64) ([]query.Transaction, error) {
	block, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	out := make([]query.Transaction, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		eth, err := query.NewEthereumTransaction(tx)
		if err != nil {
			continue
		}
		out = append(out, eth)
	}
	return out, nil
}

func (s *EthereumSource) Close() {
	s.client.Close()
}

// BitcoinSource reads blocks from a bitcoind compatible RPC server.
type BitcoinSource struct {
	client *rpcclient.Client
	params *chaincfg.Params
}

type BitcoinRPCConf struct {
	Host     string
	User     string
	Password string
	Network  ledger.Network
}

func DialBitcoin(conf BitcoinRPCConf) (*BitcoinSource, error) {
	params, err := conf.Network.Params()
	if err != nil {
		return nil, err
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         conf.Host,
		User:         conf.User,
		Pass:         conf.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bitcoin rpc client: %w", err)
	}
	return &BitcoinSource{client: client, params: params}, nil
}

func (*BitcoinSource) Ledger() ledger.Kind {
	return ledger.KindBitcoin
}

func (s *BitcoinSource) Height(context.Context) (uint64, error) {
	count, err := s.client.GetBlockCount()
	if err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (s *BitcoinSource) Transactions(_ context.Context, height uint64) ([]query.Transaction, error) {
	hash, err := s.client.GetBlockHash(int64(height))
	if err != nil {
		return nil, fmt.Errorf("failed to get block hash %d: %w", height, err)
	}
	block, err := s.client.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", hash, err)
	}
	out := make([]query.Transaction, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		out = append(out, query.NewBitcoinTransaction(tx, s.params))
	}
	return out, nil
}

func (s *BitcoinSource) Close() {
	s.client.Shutdown()
}
