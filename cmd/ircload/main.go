package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/aeolun/ircrelay/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	server   string
	password string
	channel  string
	clients  int
	duration time.Duration
	minDelay time.Duration
	maxDelay time.Duration
	timeout  time.Duration
	logLevel string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:          "ircload",
		Short:        "Load generator for ircserv",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logging.New(opts.logLevel, os.Stderr)
			_, err := runLoadTest(ctx, opts, logger)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "localhost:6667", "server address (host:port)")
	f.StringVar(&opts.password, "password", "", "connection password")
	f.StringVar(&opts.channel, "channel", "#load", "channel every bot joins")
	f.IntVar(&opts.clients, "clients", 10, "number of concurrent clients")
	f.DurationVar(&opts.duration, "duration", time.Minute, "test duration")
	f.DurationVar(&opts.minDelay, "min-delay", 100*time.Millisecond, "minimum delay between messages")
	f.DurationVar(&opts.maxDelay, "max-delay", time.Second, "maximum delay between messages")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "timeout for connect, register and join")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func (o options) validate() error {
	switch {
	case o.clients < 1:
		return fmt.Errorf("--clients must be at least 1")
	case o.duration <= 0:
		return fmt.Errorf("--duration must be positive")
	case o.minDelay < 0 || o.maxDelay < o.minDelay:
		return fmt.Errorf("--max-delay must be at least --min-delay")
	case len(o.channel) < 2 || (o.channel[0] != '#' && o.channel[0] != '&'):
		return fmt.Errorf("--channel must start with # or &")
	case !logging.ValidLevel(o.logLevel):
		return fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	return nil
}

func runLoadTest(ctx context.Context, opts options, logger zerolog.Logger) (*Stats, error) {
	// Ramp up over a quarter of the test duration
	rampUp := opts.duration / 4
	stagger := rampUp / time.Duration(opts.clients)
	if stagger < time.Millisecond {
		stagger = time.Millisecond
	}

	logger.Info().
		Str("server", opts.server).
		Int("clients", opts.clients).
		Dur("duration", opts.duration).
		Dur("ramp_up", rampUp).
		Dur("min_delay", opts.minDelay).
		Dur("max_delay", opts.maxDelay).
		Msg("starting load test")

	stats := &Stats{}
	start := time.Now()

	stopReporter := make(chan struct{})
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report(logger, stats, time.Since(start))
			case <-stopReporter:
				return
			}
		}
	}()

	var wg sync.WaitGroup
spawn:
	for i := 0; i < opts.clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			bot := newBotClient(id, opts.channel, stats, logger)
			defer bot.close()

			if err := bot.connect(opts.server, opts.password, opts.timeout); err != nil {
				bot.log.Warn().Err(err).Msg("bot failed to connect")
				return
			}
			stats.successfulBots.Add(1)
			if id%100 == 0 {
				bot.log.Info().Msg("bot connected")
			}

			bot.run(ctx, opts.duration, opts.minDelay, opts.maxDelay)
		}(i)

		select {
		case <-ctx.Done():
			break spawn
		case <-time.After(stagger):
		}
	}

	wg.Wait()
	close(stopReporter)
	<-reporterDone

	summarize(logger, opts, stats, time.Since(start))

	if stats.successfulBots.Load() == 0 {
		return stats, fmt.Errorf("no client could connect to %s", opts.server)
	}
	return stats, nil
}

func report(logger zerolog.Logger, stats *Stats, elapsed time.Duration) {
	sent, received, failed, avgUs := stats.snapshot()
	logger.Info().
		Int64("sent", sent).
		Float64("sent_per_sec", float64(sent)/elapsed.Seconds()).
		Int64("received", received).
		Int64("failed", failed).
		Int64("connect_errors", stats.connectErrors()).
		Float64("avg_latency_ms", avgUs/1000).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("stats")
}

func summarize(logger zerolog.Logger, opts options, stats *Stats, elapsed time.Duration) {
	sent, received, failed, avgUs := stats.snapshot()
	bots := stats.successfulBots.Load()

	// Every probe fans out to the other members of the shared channel
	expectedReceived := sent * max(bots-1, 0)
	delivery := 0.0
	if expectedReceived > 0 {
		delivery = float64(received) / float64(expectedReceived) * 100
	}

	logger.Info().
		Int("attempted", opts.clients).
		Int64("connected", bots).
		Int64("dial_failed", stats.connectDialFailed.Load()).
		Int64("register_failed", stats.connectRegisterFailed.Load()).
		Int64("join_failed", stats.connectJoinFailed.Load()).
		Msg("clients")

	logger.Info().
		Dur("elapsed", elapsed.Round(time.Second)).
		Int64("sent", sent).
		Int64("received", received).
		Float64("delivery_pct", delivery).
		Int64("send_failures", failed).
		Int64("error_replies", stats.errorReplies.Load()).
		Int64("disconnections", stats.disconnections.Load()).
		Float64("avg_latency_ms", avgUs/1000).
		Msg("final results")
}
