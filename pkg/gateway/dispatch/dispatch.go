// Package dispatch accepts agent jobs from a NATS queue group.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vango-go/vai-agent/pkg/agent"
)

// Job is the message body on the dispatch subject.
type Job struct {
	Room     string          `json:"room"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Reply is sent back when the job message carries a reply subject.
type Reply struct {
	OK    bool   `json:"ok"`
	Room  string `json:"room,omitempty"`
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Dispatcher puts an agent into a room. *rooms.Manager satisfies it.
type Dispatcher interface {
	Dispatch(room string, md agent.JobMetadata) (*agent.Agent, error)
}

// Observer counts dispatches. *metrics.Metrics satisfies it.
type Observer interface {
	Dispatch(source, status string)
}

type Config struct {
	Subject string
	Queue   string
	Rooms   Dispatcher

	Observer Observer
	Logger   *slog.Logger
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger.With("subject", cfg.Subject)}
}

// Connect dials NATS with reconnect and logging handlers.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DrainTimeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats: reconnected", "url", c.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats: async error", "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch: connect nats: %w", err)
	}
	return nc, nil
}

// Run subscribes in the queue group and blocks until ctx is done, then
// drains the subscription so in-flight jobs finish.
func (c *Consumer) Run(ctx context.Context, nc *nats.Conn) error {
	if c.cfg.Rooms == nil {
		return errors.New("dispatch: no rooms configured")
	}
	sub, err := nc.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, c.Handle)
	if err != nil {
		return fmt.Errorf("dispatch: subscribe %s: %w", c.cfg.Subject, err)
	}
	c.logger.Info("dispatch: listening", "queue", c.cfg.Queue)

	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("dispatch: drain: %w", err)
	}
	return nil
}

// Handle processes one job message and answers on its reply subject, if
// any.
func (c *Consumer) Handle(msg *nats.Msg) {
	reply := c.process(msg.Data)
	if msg.Reply == "" {
		return
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := msg.Respond(body); err != nil {
		c.logger.Warn("dispatch: reply failed", "room", reply.Room, "error", err)
	}
}

func (c *Consumer) process(data []byte) Reply {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		c.observe("rejected")
		return Reply{Error: "malformed job: " + err.Error()}
	}
	job.Room = strings.TrimSpace(job.Room)
	if job.Room == "" {
		c.observe("rejected")
		return Reply{Error: "room is required"}
	}
	md, err := agent.ParseJobMetadata(job.Metadata)
	if err != nil {
		c.observe("rejected")
		return Reply{Room: job.Room, Error: err.Error()}
	}
	if _, err := c.cfg.Rooms.Dispatch(job.Room, md); err != nil {
		c.observe("rejected")
		c.logger.Warn("dispatch: rejected", "room", job.Room, "job_id", md.ID, "error", err)
		return Reply{Room: job.Room, JobID: md.ID, Error: err.Error()}
	}
	c.observe("accepted")
	c.logger.Info("dispatch: accepted", "room", job.Room, "job_id", md.ID, "content_id", md.ContentID)
	return Reply{OK: true, Room: job.Room, JobID: md.ID}
}

func (c *Consumer) observe(status string) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.Dispatch("nats", status)
	}
}
