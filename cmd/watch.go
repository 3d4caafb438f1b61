package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/config"
	"github.com/kychandar/robobridge/ds"
	"github.com/kychandar/robobridge/services"
	bridgeclient "github.com/kychandar/robobridge/services/bridgeClient"
	valkey "github.com/kychandar/robobridge/services/inMemCache/valKey"
	lateststore "github.com/kychandar/robobridge/services/latestStore"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

const previewLen = 96

var (
	watchURL      string
	watchInterval time.Duration

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to the configured topics and print their latest values",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(cfgFile, env)
			if err != nil {
				log.Fatalf("failed to load config: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				log.Fatalf("invalid config: %v", err)
			}
			if watchURL != "" {
				cfg.Client.URL = watchURL
			}

			logger, cleanup := NewAsyncLogger(cfg.Log.File, cfg.Log.Level)
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runWatch(slogctx.NewCtx(ctx, logger), cfg, os.Stdout, watchInterval); err != nil {
				log.Fatalf("watch: %v", err)
			}
		},
	}
)

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "bridge endpoint (default: client.url)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "print interval")
	rootCmd.AddCommand(watchCmd)
}

func newStore(cfg *config.Config) (services.LatestValueStore, error) {
	if cfg.Client.Store == config.StoreValkey {
		return valkey.NewLatestStore(cfg, cfg.Client.Robot)
	}
	return lateststore.New(), nil
}

func runWatch(ctx context.Context, cfg *config.Config, out io.Writer, interval time.Duration) error {
	logger := slogctx.FromCtx(ctx)
	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	client := bridgeclient.New(bridgeclient.Options{
		URL:     cfg.Client.URL,
		Backoff: cfg.Backoff(),
		Store:   store,
		OnStateChange: func(s bridgeclient.State) {
			logger.Info("bridge connection", "url", cfg.Client.URL, "state", s.String())
		},
	})
	topicNames := make([]common.TopicName, 0, len(cfg.Client.Topics))
	for _, sub := range cfg.Client.Topics {
		if err := client.Subscribe(sub.Topic, sub.Type); err != nil {
			return err
		}
		topicNames = append(topicNames, sub.Topic)
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			printLatest(ctx, out, client, topicNames)
		}
	}
}

type latestReader interface {
	State() bridgeclient.State
	Latest(ctx context.Context, topic common.TopicName) (ds.LatestValue, bool, error)
	Rejected(topic common.TopicName) (string, bool)
}

var (
	topicColor    = color.New(color.FgCyan, color.Bold).SprintFunc()
	stampColor    = color.New(color.FgHiBlack).SprintFunc()
	waitingColor  = color.New(color.FgYellow).SprintFunc()
	rejectedColor = color.New(color.FgRed).SprintFunc()
	stateColors   = map[bridgeclient.State]func(a ...any) string{
		bridgeclient.Connected:    color.New(color.FgGreen).SprintFunc(),
		bridgeclient.Connecting:   color.New(color.FgYellow).SprintFunc(),
		bridgeclient.Disconnected: color.New(color.FgRed).SprintFunc(),
	}
)

func printLatest(ctx context.Context, out io.Writer, r latestReader, topicNames []common.TopicName) {
	state := r.State()
	fmt.Fprintf(out, "[%s]\n", stateColors[state](state.String()))
	for _, topic := range topicNames {
		if reason, ok := r.Rejected(topic); ok {
			fmt.Fprintf(out, "  %s %s\n", topicColor(topic), rejectedColor("rejected: "+reason))
			continue
		}
		value, ok, err := r.Latest(ctx, topic)
		switch {
		case err != nil:
			fmt.Fprintf(out, "  %s %s\n", topicColor(topic), rejectedColor("store error: "+err.Error()))
		case !ok:
			fmt.Fprintf(out, "  %s %s\n", topicColor(topic), waitingColor("waiting"))
		default:
			fmt.Fprintf(out, "  %s %s %s\n", topicColor(topic),
				stampColor(value.ReceivedAt.Format(time.TimeOnly)), preview(value.Payload))
		}
	}
}

// preview shortens payload to at most previewLen bytes without splitting a
// UTF-8 sequence.
func preview(payload []byte) string {
	if len(payload) <= previewLen {
		return string(payload)
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return string(payload[:cut]) + "..."
}
