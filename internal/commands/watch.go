/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/spf13/cobra"

	"github.com/ai-debugger-inc/aidb/internal/config"
	aidbdap "github.com/ai-debugger-inc/aidb/internal/dap"
)

const (
	clientID            = "aidb"
	closeSessionTimeout = 10 * time.Second
)

type watchFlagData struct {
	configPath string
	network    string
	address    string
	adapterID  string
	events     []string
	category   string
	timeout    time.Duration
	duration   time.Duration
}

type watchSummary struct {
	SessionID              string  `json:"sessionId"`
	State                  string  `json:"state"`
	Terminated             bool    `json:"terminated"`
	TotalRequestsSent      int64   `json:"totalRequestsSent"`
	TotalResponsesReceived int64   `json:"totalResponsesReceived"`
	SuccessRate            float64 `json:"successRate"`
	EventsDelivered        int64   `json:"eventsDelivered"`
	BreakpointHits         int     `json:"breakpointHits"`
}

func NewWatchCommand(log logr.Logger) *cobra.Command {
	flags := watchFlagData{}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Connects to a debug adapter and prints debug events",
		Long: `Connects to a debug adapter, initializes a debug session and prints the events it receives as JSON, one per line.

	The command exits when the debuggee terminates, when the watch duration elapses, or when interrupted.
	A summary of the connection is printed to standard error on exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, flags, log.WithName("watch"))
		},
		Args: cobra.NoArgs,
	}

	watchCmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a YAML configuration file")
	watchCmd.Flags().StringVarP(&flags.address, "address", "a", "", "Address of the debug adapter (host:port, socket path for unix networks, or ws:// URL for websocket)")
	watchCmd.Flags().StringVar(&flags.network, "network", "", "Network used to reach the debug adapter ('tcp', 'unix' or 'websocket')")
	watchCmd.Flags().StringVar(&flags.adapterID, "adapter-id", "", "Adapter ID sent with the initialize request")
	watchCmd.Flags().StringSliceVarP(&flags.events, "event", "e", []string{aidbdap.AnyEvent}, "Event types to print ('*' prints all events)")
	watchCmd.Flags().StringVar(&flags.category, "category", "", "Only print output events of this category")
	watchCmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "How long to wait for the debug adapter to accept the connection")
	watchCmd.Flags().DurationVar(&flags.duration, "duration", 0, "Stop watching after this long (0 means until the debuggee terminates)")

	return watchCmd
}

func (f watchFlagData) resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("network") {
		cfg.Adapter.Network = f.network
	}
	if cmd.Flags().Changed("address") {
		cfg.Adapter.Address = f.address
	}
	if cmd.Flags().Changed("adapter-id") {
		cfg.Adapter.ID = f.adapterID
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Connection.ConnectTimeout = f.timeout
	}

	if cfg.Adapter.Address == "" {
		return nil, errors.New("debug adapter address is required (use --address or the configuration file)")
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func runWatch(cmd *cobra.Command, flags watchFlagData, log logr.Logger) error {
	cfg, err := flags.resolveConfig(cmd)
	if err != nil {
		return err
	}

	session, err := aidbdap.NewSession(cfg.SessionConfig(log))
	if err != nil {
		return fmt.Errorf("could not create debug session: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	printer := newEventPrinter(cmd.OutOrStdout(), log)
	if err = subscribeWatchedEvents(session.Events(), flags, printer); err != nil {
		return err
	}

	terminated := make(chan struct{})
	var terminatedOnce sync.Once
	if _, err = session.Events().OnTerminated(func(dap.EventMessage) {
		terminatedOnce.Do(func() { close(terminated) })
	}); err != nil {
		return err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeSessionTimeout)
		defer cancel()

		summary := summarize(session)
		session.Close(closeCtx, false)

		if summaryErr := writeJSONLine(cmd.ErrOrStderr(), summary); summaryErr != nil {
			log.Error(summaryErr, "Could not write session summary")
		}
	}()

	if err = session.Start(ctx, cfg.Connection.ConnectTimeout); err != nil {
		if aidbdap.IsTimeoutError(err) {
			return fmt.Errorf("debug adapter at '%s' did not accept the connection within %s: %w", cfg.Adapter.Address, cfg.Connection.ConnectTimeout, err)
		}
		return fmt.Errorf("could not connect to debug adapter at '%s': %w", cfg.Adapter.Address, err)
	}

	if _, err = session.Initialize(ctx, dap.InitializeRequestArguments{
		ClientID:        clientID,
		ClientName:      clientID,
		AdapterID:       cfg.Adapter.ID,
		PathFormat:      "path",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
	}); err != nil {
		return fmt.Errorf("debug adapter did not complete initialization: %w", err)
	}

	log.V(1).Info("Watching debug session", "SessionID", session.ID, "Address", cfg.Adapter.Address)

	var durationElapsed <-chan time.Time
	if flags.duration > 0 {
		timer := time.NewTimer(flags.duration)
		defer timer.Stop()
		durationElapsed = timer.C
	}

	select {
	case <-terminated:
		log.V(1).Info("Debuggee terminated")
	case <-durationElapsed:
		log.V(1).Info("Watch duration elapsed")
	case <-ctx.Done():
		log.V(1).Info("Watch cancelled")
	}

	return nil
}

func subscribeWatchedEvents(events aidbdap.EventAPI, flags watchFlagData, printer *eventPrinter) error {
	for _, eventType := range flags.events {
		var err error
		if eventType == aidbdap.EventOutput && flags.category != "" {
			_, err = events.OnOutput(printer.print, flags.category)
		} else {
			var filter aidbdap.EventFilter
			if flags.category != "" {
				filter = func(event dap.EventMessage) bool {
					return aidbdap.EventType(event) != aidbdap.EventOutput || aidbdap.OutputCategory(event) == flags.category
				}
			}
			_, err = events.SubscribeToEvent(eventType, printer.print, filter)
		}

		if err != nil {
			return fmt.Errorf("could not subscribe to '%s' events: %w", eventType, err)
		}
	}

	return nil
}

func summarize(session *aidbdap.Session) watchSummary {
	status := session.Connection().GetConnectionStatus()
	state := session.State()

	return watchSummary{
		SessionID:              session.ID,
		State:                  status.State.String(),
		Terminated:             state.Terminated,
		TotalRequestsSent:      status.TotalRequestsSent,
		TotalResponsesReceived: status.TotalResponsesReceived,
		SuccessRate:            status.SuccessRate,
		EventsDelivered:        session.Events().GetSubscriptionStats().EventsDelivered,
		BreakpointHits:         len(session.Processor().GetBreakpointEvents()),
	}
}

type eventPrinter struct {
	lock *sync.Mutex
	w    io.Writer
	log  logr.Logger
}

func newEventPrinter(w io.Writer, log logr.Logger) *eventPrinter {
	return &eventPrinter{
		lock: &sync.Mutex{},
		w:    w,
		log:  log,
	}
}

func (p *eventPrinter) print(event dap.EventMessage) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if err := writeJSONLine(p.w, event); err != nil {
		p.log.Error(err, "Could not print event", "Event", event.GetEvent())
	}
}
