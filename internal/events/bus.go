// Package events fans domain events out over NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/ernie/play4096/internal/domain"
)

// SubjectPrefix is prepended to the event type to form a subject
const SubjectPrefix = "play4096.events."

const allSubjects = SubjectPrefix + ">"

// Publisher publishes domain events
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Bus publishes and receives events. With no URL it runs an embedded
// server reachable only in-process.
type Bus struct {
	nc  *nats.Conn
	ns  *server.Server
	log *logrus.Entry
}

// Open connects to url, or starts an embedded server when url is empty
func Open(url string, log *logrus.Entry) (*Bus, error) {
	b := &Bus{log: log.WithField("component", "events")}

	if url == "" {
		ns, err := server.NewServer(&server.Options{
			ServerName: "play4096",
			DontListen: true,
			NoLog:      true,
			NoSigs:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded nats server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return nil, errors.New("embedded nats server not ready")
		}
		b.ns = ns

		nc, err := nats.Connect(ns.ClientURL(), nats.InProcessServer(ns), nats.Name("play4096"))
		if err != nil {
			ns.Shutdown()
			return nil, fmt.Errorf("connecting to embedded nats: %w", err)
		}
		b.nc = nc
		b.log.Debug("Started embedded event bus")
		return b, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("play4096"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.log.WithError(err).Warn("Event bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.WithField("url", nc.ConnectedUrl()).Info("Event bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	b.nc = nc
	b.log.WithField("url", url).Info("Connected to event bus")
	return b, nil
}

// Publish encodes ev onto its subject. A zero timestamp is set to now.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return b.nc.Publish(SubjectPrefix+ev.Type, data)
}

// Subscribe calls fn for every event on the bus
func (b *Bus) Subscribe(fn func(domain.Event)) (*nats.Subscription, error) {
	return b.nc.Subscribe(allSubjects, func(msg *nats.Msg) {
		var ev domain.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.WithError(err).WithField("subject", msg.Subject).Warn("Dropping malformed event")
			return
		}
		fn(ev)
	})
}

// Flush waits until published messages reach the server
func (b *Bus) Flush() error {
	return b.nc.Flush()
}

// Close drains the connection and stops any embedded server
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(context.Context, domain.Event) error { return nil }
