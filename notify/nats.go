package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/metrics"
)

// DefaultSubject prefixes the subjects records are published on:
// <prefix>.<trade>.<kind>.
const DefaultSubject = "htlcswap.trades"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON payload of a published record.
type Message struct {
	Trade    eventchain.TradeID `json:"trade"`
	Seq      uint64             `json:"seq"`
	Kind     eventchain.Kind    `json:"kind"`
	At       time.Time          `json:"at"`
	PrevHash string             `json:"prev_hash,omitempty"`
	Hash     string             `json:"hash"`
	Event    json.RawMessage    `json:"event"`
}

type PublisherConf struct {
	Conn Conn
	// Subject defaults to DefaultSubject.
	Subject string
}

// Publisher implements eventchain.Sink. Publication is best effort: a
// failure is logged and never affects the chain.
type Publisher struct {
	conn    Conn
	subject string
	logger  zerolog.Logger
}

func NewPublisher(conf PublisherConf) *Publisher {
	if conf.Subject == "" {
		conf.Subject = DefaultSubject
	}
	return &Publisher{
		conn:    conf.Conn,
		subject: strings.TrimSuffix(conf.Subject, "."),
		logger:  logging.RootLogger.With().Str("Component", "Notify").Logger(),
	}
}

// Subject is where rec is published.
func (p *Publisher) Subject(rec eventchain.Record) string {
	return fmt.Sprintf("%s.%s.%s", p.subject, rec.Trade, rec.Kind())
}

// Notify implements eventchain.Sink
func (p *Publisher) Notify(rec eventchain.Record) {
	event, err := json.Marshal(rec.Event)
	if err != nil {
		p.logger.Err(err).Str("trade", string(rec.Trade)).Msg("failed to encode event")
		return
	}
	data, err := json.Marshal(Message{
		Trade:    rec.Trade,
		Seq:      rec.Seq,
		Kind:     rec.Kind(),
		At:       rec.At,
		PrevHash: rec.PrevHash,
		Hash:     rec.Hash,
		Event:    event,
	})
	if err != nil {
		p.logger.Err(err).Send()
		return
	}
	if err := p.conn.Publish(p.Subject(rec), data); err != nil {
		p.logger.Warn().Err(err).Str("trade", string(rec.Trade)).Msgf("failed to publish %s", rec.Kind())
		return
	}
	p.logger.Debug().Str("subject", p.Subject(rec)).Msg("published")
}

// Connect dials the NATS server at url and keeps reconnecting for the
// lifetime of the process.
func Connect(url string, timeout time.Duration) (*nats.Conn, error) {
	logger := logging.RootLogger.With().Str("Component", "Notify").Logger()
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	conn, err := nats.Connect(url,
		nats.Name("htlcswap"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)
	return conn, nil
}
