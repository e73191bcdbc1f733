package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pdleague/pdleague/internal/action"
)

// NATS maps the log contract onto a JetStream stream: one subject per
// match, push subscriptions for change notification, and the server-side
// duplicate window keyed by the action's content ID for append idempotency.
//
// The stream's durability and per-subject ordering are assumed properties
// of the store, not something built here.
type NATS struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
	prefix string
}

// envelope is the wire form of an action on the stream. Seq is not carried:
// it is the JetStream stream sequence, read back from message metadata.
type envelope struct {
	MatchKey  string      `json:"matchKey"`
	Timestamp int64       `json:"ts"`
	Kind      action.Kind `json:"kind"`
	Payload   string      `json:"payload"`
}

const (
	defaultStream = "PDLEAGUE"
	defaultPrefix = "pdleague.actions"

	// loadIdle is how long a replay waits for the next message before
	// concluding it has drained the subject.
	loadIdle = 500 * time.Millisecond
)

// OpenNATS connects to the server and ensures the action stream exists.
func OpenNATS(url string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("pdleague"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.StreamInfo(defaultStream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       defaultStream,
			Subjects:   []string{defaultPrefix + ".>"},
			Storage:    nats.FileStorage,
			Duplicates: 2 * time.Minute,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &NATS{nc: nc, js: js, stream: defaultStream, prefix: defaultPrefix}, nil
}

// Append publishes the action with its content ID as the JetStream message
// ID, so the server's duplicate window absorbs retries of the same value.
func (n *NATS) Append(ctx context.Context, a action.Action) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	id, err := action.ID(a)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	payload, err := action.MarshalPayload(a)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	data, err := json.Marshal(envelope{
		MatchKey:  a.MatchKey,
		Timestamp: a.Timestamp,
		Kind:      a.Kind,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	_, err = n.js.Publish(n.subject(a.MatchKey), data, nats.MsgId(id), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("append: publish: %w", err)
	}
	return nil
}

// Load replays the match's subject from the beginning.
func (n *NATS) Load(ctx context.Context, matchKey string) ([]action.Action, error) {
	return n.replay(ctx, n.subject(matchKey))
}

// LoadAll replays every action subject from the beginning.
func (n *NATS) LoadAll(ctx context.Context) ([]action.Action, error) {
	return n.replay(ctx, n.prefix+".>")
}

// Subscribe delivers the match's full snapshot on every new message and
// after a reset. Deltas from the push subscription are used only as change
// signals; state is always rebuilt from a full replay.
func (n *NATS) Subscribe(matchKey string, fn func([]action.Action)) (func(), error) {
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snapshot, err := n.Load(ctx, matchKey)
		if err != nil {
			return
		}
		fn(snapshot)
	}

	sub, err := n.js.Subscribe(n.subject(matchKey), func(*nats.Msg) {
		deliver()
	}, nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", matchKey, err)
	}

	resetSub, err := n.nc.Subscribe(n.prefix+".reset", func(*nats.Msg) {
		deliver()
	})
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe reset: %w", err)
	}

	cancel := func() {
		sub.Unsubscribe()
		resetSub.Unsubscribe()
	}
	return cancel, nil
}

// Reset purges the stream and broadcasts a reset signal so connected
// clients rebuild from the now-empty log.
func (n *NATS) Reset(ctx context.Context) error {
	if err := n.js.PurgeStream(n.stream); err != nil {
		return fmt.Errorf("reset: purge: %w", err)
	}
	if err := n.nc.Publish(n.prefix+".reset", nil); err != nil {
		return fmt.Errorf("reset: notify: %w", err)
	}
	return nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}

func (n *NATS) subject(matchKey string) string {
	// Subject tokens may not contain spaces or dots.
	safe := strings.NewReplacer(" ", "_", ".", "_").Replace(matchKey)
	return n.prefix + "." + safe
}

// replay drains a subject with an ordered ephemeral consumer, tagging each
// action with its stream sequence as the replay tie-break key.
func (n *NATS) replay(ctx context.Context, subject string) ([]action.Action, error) {
	sub, err := n.js.SubscribeSync(subject, nats.OrderedConsumer())
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	var out []action.Action
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := sub.NextMsg(loadIdle)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", subject, err)
		}

		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return nil, fmt.Errorf("replay %s: decode: %w", subject, err)
		}
		var seq int64
		if meta, err := msg.Metadata(); err == nil {
			seq = int64(meta.Sequence.Stream)
		}
		a, err := action.UnmarshalPayload(env.MatchKey, env.Timestamp, seq, env.Kind, env.Payload)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", subject, err)
		}
		out = append(out, a)
	}

	action.Sort(out)
	return out, nil
}
