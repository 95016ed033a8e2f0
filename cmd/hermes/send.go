package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/internal/runtime"
	"github.com/ricco24/hermes/internal/runtime/jsoncodec"
	"github.com/ricco24/hermes/internal/runtime/logging"
	"github.com/ricco24/hermes/message"
)

type sendOptions struct {
	payload  string
	priority string
	delay    time.Duration
	headers  []string
}

func newSendCmd(a *app) *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send TYPE",
		Short: "Send one message to the configured driver",
		Example: `  hermes send email --payload '{"to":"ops@example.com"}' --priority high
  hermes send report --delay 10m --header tenant=acme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, priority, err := opts.build(args[0])
			if err != nil {
				return err
			}
			if err := a.send(cmd.Context(), msg, priority); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.payload, "payload", "{}", "JSON object payload")
	cmd.Flags().StringVarP(&opts.priority, "priority", "p", driver.PriorityDefault.String(), "low, medium or high")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "earliest processing time, relative to now")
	cmd.Flags().StringArrayVar(&opts.headers, "header", nil, "metadata entry as key=value (repeatable)")
	return cmd
}

func (o sendOptions) build(messageType string) (*message.Message, driver.Priority, error) {
	priority, err := driver.ParsePriority(o.priority)
	if err != nil {
		return nil, 0, err
	}
	var payload message.Payload
	if err := jsoncodec.UnmarshalString(o.payload, &payload); err != nil {
		return nil, 0, fmt.Errorf("payload: %w", err)
	}
	md := message.Metadata{}
	for _, h := range o.headers {
		key, value, ok := strings.Cut(h, "=")
		if !ok || key == "" {
			return nil, 0, fmt.Errorf("header %q: want key=value", h)
		}
		md[key] = value
	}

	opts := []message.Option{message.WithMetadata(md)}
	if o.delay > 0 {
		opts = append(opts, message.WithDelay(o.delay))
	}
	return message.New(messageType, payload, opts...), priority, nil
}

func (a *app) send(ctx context.Context, msg *message.Message, priority driver.Priority) error {
	rt, err := runtime.Bootstrap(ctx, a.cfg, logging.NewZapLogger(a.zap))
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.Dispatcher.Send(ctx, msg, priority)
}
