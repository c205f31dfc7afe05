package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.dedis.ch/htlcswap/config"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/httpapi"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/lqs"
	"go.dedis.ch/htlcswap/metrics"
	"go.dedis.ch/htlcswap/negotiation"
	"go.dedis.ch/htlcswap/notify"
	"go.dedis.ch/htlcswap/policy"
	"go.dedis.ch/htlcswap/swap"
)

const shutdownTimeout = 5 * time.Second

func serve(c *cli.Context) error {
	conf, err := config.Load(c.String(optionConfig.Name))
	if err != nil {
		return err
	}
	if err := logging.SetLevel(conf.LogLevel); err != nil {
		return err
	}
	logger := logging.RootLogger.With().Str("Component", "swapd").Logger()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(conf, logger)
	if err != nil {
		return err
	}

	queries := lqs.NewQueryRepository()
	results := lqs.NewResultRepository()
	processor := lqs.NewTransactionProcessor(lqs.TransactionProcessorConf{
		Queries: queries,
		Results: results,
		Metrics: metrics.Recorder{},
	})
	service := lqs.NewService(queries, results)

	listeners, err := startListeners(ctx, conf, processor)
	if err != nil {
		return err
	}

	engine := swap.NewEngine(swap.EngineConf{
		Store:   store,
		Queries: service,
		Retry: swap.RetryPolicy{
			Attempts:   conf.Retry.Attempts,
			Backoff:    conf.Retry.Backoff,
			MaxBackoff: conf.Retry.MaxBackoff,
		},
		BlockInterval: conf.Bitcoin.BlockInterval,
		Metrics:       metrics.Recorder{},
	})
	defer engine.Close()

	dispatcher, err := newDispatcher(conf, engine)
	if err != nil {
		return err
	}

	node, err := startNegotiation(conf, dispatcher)
	if err != nil {
		return err
	}
	defer node.Stop()

	srv := &http.Server{
		Addr: conf.HTTP.Listen,
		Handler: httpapi.NewRouter(httpapi.RouterConf{
			Queries: service,
			Trades:  engine,
			Metrics: conf.HTTP.Metrics,
		}),
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", conf.HTTP.Listen).Msg("serving http")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err = <-errc:
		logger.Error().Err(err).Msg("http server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to shut down http server")
	}
	for _, done := range listeners {
		<-done
	}
	return err
}

// openStore picks the postgres store when a DSN is configured and attaches
// the metrics and NATS sinks.
func openStore(conf config.Config, logger zerolog.Logger) (eventchain.Store, error) {
	var store eventchain.Store = eventchain.NewMemoryStore()
	if conf.Database.DSN != "" {
		gs, err := eventchain.OpenGormStore(conf.Database.DSN)
		if err != nil {
			return nil, err
		}
		store = gs
	}

	sinks := []eventchain.Sink{metrics.Recorder{}}
	if conf.NATS.URL != "" {
		conn, err := notify.Connect(conf.NATS.URL, conf.NATS.Timeout)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notify.NewPublisher(notify.PublisherConf{Conn: conn, Subject: conf.NATS.Subject}))
		logger.Info().Str("url", conf.NATS.URL).Msg("publishing trade events")
	}
	return eventchain.Notifying(store, sinks...), nil
}

func startListeners(ctx context.Context, conf config.Config, processor *lqs.TransactionProcessor) ([]<-chan struct{}, error) {
	var sources []lqs.BlockSource
	var intervals []time.Duration

	if conf.Bitcoin.RPC != "" {
		src, err := lqs.DialBitcoin(lqs.BitcoinRPCConf{
			Host:     conf.Bitcoin.RPC,
			User:     conf.Bitcoin.User,
			Password: conf.Bitcoin.Password,
			Network:  conf.Bitcoin.Network,
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		intervals = append(intervals, conf.Bitcoin.PollInterval)
	}
	if conf.Ethereum.URL != "" {
		src, err := lqs.DialEthereum(ctx, conf.Ethereum.URL)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		intervals = append(intervals, conf.Ethereum.PollInterval)
	}

	done := make([]<-chan struct{}, 0, len(sources))
	for i, src := range sources {
		l := lqs.NewListener(lqs.ListenerConf{
			Source:       src,
			Processor:    processor,
			PollInterval: intervals[i],
		})
		done = append(done, l.Start(ctx))
	}
	return done, nil
}

func newDispatcher(conf config.Config, engine *swap.Engine) (*swap.Dispatcher, error) {
	var handler swap.Handler = swap.HandlerFunc(func(swap.Request) swap.Decision {
		return swap.Decision{Reason: "no policy configured"}
	})
	if conf.Policy != "" {
		p, err := policy.Load(conf.Policy)
		if err != nil {
			return nil, err
		}
		handler = p
	}

	identities := make(map[ledger.Kind]htlc.Identity)
	for kind, s := range map[ledger.Kind]string{
		ledger.KindBitcoin:  conf.Bitcoin.Identity,
		ledger.KindEthereum: conf.Ethereum.Identity,
	} {
		if s == "" {
			continue
		}
		id, err := htlc.ParseIdentity(s)
		if err != nil {
			return nil, fmt.Errorf("%s identity: %w", kind, err)
		}
		identities[kind] = id
	}

	bitcoin, ethereum := conf.Ledgers()
	return swap.NewDispatcher(swap.DispatcherConf{
		Ledgers:       swap.Ledgers{Bitcoin: bitcoin, Ethereum: ethereum},
		Handler:       handler,
		Executable:    engine.Executable(),
		Identities:    identities,
		BlockInterval: conf.Bitcoin.BlockInterval,
		Responder:     engine,
	}), nil
}

func startNegotiation(conf config.Config, dispatcher *swap.Dispatcher) (*negotiation.Node, error) {
	sock, err := negotiation.Listen(conf.Negotiation.Listen)
	if err != nil {
		return nil, err
	}
	nodeConf := negotiation.NodeConf{
		Socket:  sock,
		Timeout: conf.Negotiation.Timeout,
	}
	if conf.Negotiation.VectorClock {
		nodeConf.Codec = negotiation.NewVectorCodec(sock.GetAddress())
	}
	node := negotiation.NewNode(nodeConf)
	node.Handle(swap.MethodSwap, dispatcher.Serve)
	node.Start()
	return node, nil
}
