package commands

import (
	"context"
	"errors"
	"flag"
	"strings"

	"github.com/cartulary/cartulary/pkg/eventbus"
)

// BroadcastCommand runs the event fan-out hub. With -tail it also
// prints every event to stdout, which is handy for debugging the bus.
type BroadcastCommand struct {
	base *base

	flagTail bool
}

func (c *BroadcastCommand) Synopsis() string {
	return "Run the document event fan-out hub"
}

func (c *BroadcastCommand) Help() string {
	return strings.TrimSpace(`
Usage: cartulary broadcast [options]

  Subscribes to the document event channel and fans events out to
  registered live subscribers, reconnecting with backoff when Redis
  drops.

Options:

  -tail  Also print every event to stdout.
`)
}

func (c *BroadcastCommand) Run(args []string) int {
	flags := flag.NewFlagSet("broadcast", flag.ContinueOnError)
	flags.BoolVar(&c.flagTail, "tail", false, "print events to stdout")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg, err := c.base.loadConfig()
	if err != nil {
		return 1
	}
	ctx, cancel := interruptContext()
	defer cancel()

	hub, err := eventbus.NewHub(eventbus.HubConfig{
		RedisURL: cfg.Redis.URL,
		Logger:   c.base.logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to create hub: " + err.Error())
		return 1
	}

	if c.flagTail {
		ch := hub.Register()
		go func() {
			for msg := range ch {
				c.base.ui.Output(string(msg))
			}
		}()
	}

	c.base.ui.Output("Broadcast hub started on channel " + eventbus.Channel)
	if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.base.ui.Error("Hub stopped with error: " + err.Error())
		return 1
	}
	return 0
}
