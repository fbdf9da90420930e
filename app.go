package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/matt0x6f/cascade/internal/config"
	"github.com/matt0x6f/cascade/internal/constants"
	"github.com/matt0x6f/cascade/internal/events"
	"github.com/matt0x6f/cascade/internal/irc"
	"github.com/matt0x6f/cascade/internal/logger"
	"github.com/matt0x6f/cascade/internal/metrics"
	"github.com/matt0x6f/cascade/internal/security"
	"github.com/matt0x6f/cascade/internal/storage"
)

const dialTimeout = 30 * time.Second

// App owns the long-lived pieces: configuration, transcript store, event
// bus, keychain, metrics, and one engine+connection per network.
type App struct {
	cfg      *config.Config
	store    *storage.Store
	eventBus *events.EventBus
	keychain *security.Keychain
	recorder *metrics.Recorder

	mu         sync.RWMutex
	sessions   map[string]*session
	connecting map[string]chan struct{}

	// console focus: bare input lines go to activeTarget on activeNetwork
	consoleMu     sync.Mutex
	activeNetwork string
	activeTarget  string

	startupCtx    context.Context
	startupCancel context.CancelFunc
	startupWg     sync.WaitGroup
}

// session is one live network connection and its protocol engine
type session struct {
	name   string
	cfg    config.Network
	engine *irc.Engine
	conn   *ServerConn
	done   chan struct{}
}

// NewApp wires the application together from a validated configuration
func NewApp(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.Open(cfg.DatabasePath(), constants.WriteBufferSize, constants.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app := &App{
		cfg:        cfg,
		store:      store,
		eventBus:   events.NewEventBus(),
		keychain:   security.NewKeychain(),
		recorder:   metrics.NewRecorder(),
		sessions:   make(map[string]*session),
		connecting: make(map[string]chan struct{}),
	}

	// The recorder counts every event; the app reacts to a few of them.
	app.eventBus.Subscribe("*", app.recorder)
	app.eventBus.Subscribe(irc.EventConnectionEstablished, app)
	app.eventBus.Subscribe(irc.EventDisconnectRequested, app)
	app.eventBus.Subscribe(irc.EventMessageHighlight, app)
	app.eventBus.Subscribe(irc.EventSTSPolicy, app)
	app.eventBus.Subscribe(irc.EventSASLFailed, app)

	return app, nil
}

// startup launches the metrics listener and auto-connects configured
// networks with staggered delays
func (a *App) startup() {
	a.startupCtx, a.startupCancel = context.WithCancel(context.Background())

	if a.cfg.Metrics.Enabled {
		a.recorder.Serve(a.cfg.Metrics.Listen)
	}

	a.startupWg.Add(1)
	go func() {
		defer a.startupWg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Error().Interface("panic", r).Msg("PANIC in auto-connect goroutine")
			}
		}()

		select {
		case <-a.startupCtx.Done():
			return
		case <-time.After(constants.AutoConnectDelay):
		}

		stagger := 0
		for _, network := range a.cfg.Networks {
			if !network.AutoConnect {
				continue
			}
			name := network.Name
			delay := time.Duration(stagger) * constants.ConnectionStaggerDelay
			stagger++

			a.startupWg.Add(1)
			go func(name string, delay time.Duration) {
				defer a.startupWg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Log.Error().Interface("panic", r).Str("network", name).Msg("PANIC in auto-connect")
					}
				}()

				select {
				case <-a.startupCtx.Done():
					return
				case <-time.After(delay):
				}

				if err := a.ConnectNetwork(name); err != nil {
					logger.Log.Error().Err(err).Str("network", name).Msg("Failed to auto-connect")
				}
			}(name, delay)
		}
	}()
}

// shutdown quits every network, flushes state and stops the listeners
func (a *App) shutdown() {
	logger.Log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.startupCancel != nil {
		a.startupCancel()
	}

	startupDone := make(chan struct{})
	go func() {
		a.startupWg.Wait()
		close(startupDone)
	}()
	select {
	case <-startupDone:
	case <-shutdownCtx.Done():
		logger.Log.Warn().Msg("Timeout waiting for startup goroutines, continuing shutdown")
	}

	a.mu.Lock()
	open := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		open = append(open, s)
	}
	a.mu.Unlock()

	for _, s := range open {
		if s.conn.IsConnected() {
			if err := s.engine.Quit("cascade shutting down"); err != nil {
				logger.Log.Debug().Err(err).Str("network", s.name).Msg("QUIT failed")
			}
		}
		s.conn.Close()
		select {
		case <-s.done:
		case <-shutdownCtx.Done():
			logger.Log.Warn().Str("network", s.name).Msg("Timeout waiting for read loop")
		}
	}

	a.store.Close()

	if err := a.recorder.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn().Err(err).Msg("Metrics shutdown failed")
	}

	logger.Log.Info().Msg("Shutdown complete")
}

// Run starts the application and blocks until the context is cancelled or
// the console reaches EOF
func (a *App) Run(ctx context.Context, interactive bool) {
	a.startup()

	if interactive {
		a.runConsole(ctx)
	} else {
		<-ctx.Done()
	}

	a.shutdown()
}

// resolveCredentials builds the engine's credential source for one network.
// Passwords missing from the config fall back to the OS keyring; main has
// already had its chance to prompt interactively.
func (a *App) resolveCredentials(n config.Network) (credentials, string) {
	creds := credentials{
		account:  n.SASL.Account,
		password: n.SASL.Password,
		hasCert:  n.SASL.HasClientCertificate(),
	}
	if n.SASL.Enabled && creds.password == "" {
		if stored, err := a.keychain.GetSASLPassword(n.Name); err == nil && stored != "" {
			creds.password = stored
		}
	}

	serverPassword := n.ServerPassword
	if serverPassword == "" {
		if stored, err := a.keychain.GetServerPassword(n.Name); err == nil && stored != "" {
			serverPassword = stored
		}
	}
	return creds, serverPassword
}

// tlsConfigFor builds the TLS client configuration for one network,
// loading the client certificate pair when EXTERNAL is configured
func tlsConfigFor(n config.Network, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if n.SASL.HasClientCertificate() {
		cert, err := tls.LoadX509KeyPair(n.SASL.CertFile, n.SASL.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ConnectNetwork connects to a configured network, trying its servers in
// listed order until one accepts
func (a *App) ConnectNetwork(name string) error {
	network, ok := a.cfg.Network(name)
	if !ok {
		return fmt.Errorf("network %q is not configured", name)
	}
	if err := validateNetwork(*network); err != nil {
		return fmt.Errorf("network %s: %w", name, err)
	}

	a.mu.Lock()
	if _, inProgress := a.connecting[name]; inProgress {
		a.mu.Unlock()
		return fmt.Errorf("connection to %s already in progress", name)
	}
	if existing, exists := a.sessions[name]; exists && existing.conn.IsConnected() {
		a.mu.Unlock()
		return fmt.Errorf("already connected to %s", name)
	}
	connectDone := make(chan struct{})
	a.connecting[name] = connectDone
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.connecting, name)
		a.mu.Unlock()
		close(connectDone)
	}()

	creds, serverPassword := a.resolveCredentials(*network)
	sink := &transcriptSink{app: a, network: name}

	var lastErr error
	for i, srv := range network.Servers {
		serverKey := fmt.Sprintf("%s:%d", srv.Address, srv.Port)
		logger.Log.Info().
			Int("current", i+1).
			Int("total", len(network.Servers)).
			Str("server", serverKey).
			Msg("Trying server")
		a.statusMessage(name, fmt.Sprintf("Connecting to %s...", serverKey))

		var tlsCfg *tls.Config
		if srv.TLS {
			var err error
			tlsCfg, err = tlsConfigFor(*network, srv.Address)
			if err != nil {
				lastErr = err
				a.statusMessage(name, fmt.Sprintf("Failed to connect to %s: %v", serverKey, err))
				continue
			}
		}

		conn, err := DialServer(name, srv.Address, srv.Port, tlsCfg, dialTimeout)
		if err != nil {
			lastErr = err
			logger.Log.Warn().Err(err).Str("server", serverKey).Msg("Failed to connect")
			a.statusMessage(name, fmt.Sprintf("Failed to connect to %s: %v", serverKey, err))
			continue
		}
		conn.WithRecorder(a.recorder)

		engine := irc.New(irc.Config{
			SASL: irc.SASLConfig{
				Enabled:   network.SASL.Enabled,
				Mechanism: network.SASL.Mechanism,
				Force:     network.SASL.Force,
			},
			RequestCaps: network.RequestCaps,
		}, irc.Context{
			Conn:     conn,
			Events:   a.eventBus,
			Display:  sink,
			Members:  &memberTable{store: a.store, network: name},
			Identity: identity{cfg: *network},
			Client:   clientInfo{},
			Creds:    creds,
			Mod:      newModeration(*network),
		})

		s := &session{
			name:   name,
			cfg:    *network,
			engine: engine,
			conn:   conn,
			done:   make(chan struct{}),
		}

		a.mu.Lock()
		a.sessions[name] = s
		a.mu.Unlock()

		if err := engine.StartRegistration(serverPassword); err != nil {
			conn.Close()
			a.mu.Lock()
			delete(a.sessions, name)
			a.mu.Unlock()
			lastErr = err
			continue
		}

		go a.readLoop(s)

		a.consoleMu.Lock()
		if a.activeNetwork == "" {
			a.activeNetwork = name
		}
		a.consoleMu.Unlock()

		a.statusMessage(name, fmt.Sprintf("Connected to %s", serverKey))
		return nil
	}

	a.statusMessage(name, fmt.Sprintf("Failed to connect to any server: %v", lastErr))
	return fmt.Errorf("failed to connect to any server: %w", lastErr)
}

// readLoop pumps inbound lines into the engine until the connection drops,
// then resets protocol state so pending label callbacks see an error
func (a *App) readLoop(s *session) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Interface("panic", r).Str("network", s.name).Msg("PANIC in read loop")
		}
	}()

	err := s.conn.ReadLoop(s.engine.HandleLine)
	if err != nil {
		logger.Log.Warn().Err(err).Str("network", s.name).Msg("Connection lost")
	}

	s.engine.HandleDisconnect()
	a.statusMessage(s.name, "Disconnected from server")

	a.mu.Lock()
	if a.sessions[s.name] == s {
		delete(a.sessions, s.name)
	}
	a.mu.Unlock()
}

// DisconnectNetwork sends QUIT and closes the connection
func (a *App) DisconnectNetwork(name string) error {
	a.mu.RLock()
	s, exists := a.sessions[name]
	a.mu.RUnlock()

	if !exists {
		return fmt.Errorf("network not connected")
	}

	if s.conn.IsConnected() {
		if err := s.engine.Quit(""); err != nil {
			logger.Log.Debug().Err(err).Str("network", name).Msg("QUIT failed")
		}
	}
	return s.conn.Close()
}

// dropConnection closes a connection without the QUIT exchange. Used when
// the engine has asked for teardown (server ERROR, kill, SASL ceiling).
func (a *App) dropConnection(name string) {
	a.mu.RLock()
	s, exists := a.sessions[name]
	a.mu.RUnlock()

	if exists {
		s.conn.Close()
	}
}

// Session returns the live session for a network, if connected
func (a *App) Session(name string) (*session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[name]
	return s, ok
}

// OnEvent implements events.Subscriber: the app reacts to the engine
// events that need host-side action
func (a *App) OnEvent(event events.Event) {
	network, _ := event.Data["network"].(string)

	switch event.Type {
	case irc.EventConnectionEstablished:
		go a.autoJoin(network)

	case irc.EventDisconnectRequested:
		reason, _ := event.Data["reason"].(string)
		logger.Log.Info().Str("network", network).Str("reason", reason).Msg("Engine requested disconnect")
		a.dropConnection(network)

	case irc.EventMessageHighlight:
		sender, _ := event.Data["sender"].(string)
		message, _ := event.Data["message"].(string)
		target, _ := event.Data["target"].(string)
		title := fmt.Sprintf("%s %s", network, target)
		if err := beeep.Notify(title, fmt.Sprintf("%s: %s", sender, message), ""); err != nil {
			logger.Log.Debug().Err(err).Msg("Desktop notification failed")
		}

	case irc.EventSTSPolicy:
		policy, _ := event.Data["policy"].(string)
		logger.Log.Info().Str("network", network).Str("policy", policy).Msg("Server published an STS policy")

	case irc.EventSASLFailed:
		reason, _ := event.Data["reason"].(string)
		logger.Log.Warn().Str("network", network).Str("reason", reason).Msg("SASL authentication failed")
	}
}

// autoJoin joins the configured channels once registration settles
func (a *App) autoJoin(name string) {
	network, ok := a.cfg.Network(name)
	if !ok || len(network.Channels) == 0 {
		return
	}

	select {
	case <-a.startupCtx.Done():
		return
	case <-time.After(constants.AutoJoinDelay):
	}

	s, connected := a.Session(name)
	if !connected {
		return
	}

	for _, channel := range network.Channels {
		if err := s.engine.JoinChannel(channel); err != nil {
			logger.Log.Warn().Err(err).Str("channel", channel).Str("network", name).Msg("Auto-join failed")
		}
	}
}

// statusMessage writes a line to a network's status window
func (a *App) statusMessage(network, text string) {
	sink := &transcriptSink{app: a, network: network}
	sink.DisplayMessage(irc.Message{
		Sender:    "*",
		Text:      text,
		Type:      "status",
		Timestamp: time.Now(),
	})
}

// render prints one display message to the console
func (a *App) render(network string, msg irc.Message) {
	pane := msg.Target
	if pane == "" {
		pane = "status"
	}

	stamp := msg.Timestamp.Format("15:04:05")
	var line string
	switch msg.Type {
	case "privmsg":
		line = fmt.Sprintf("<%s> %s", msg.Sender, msg.Text)
	case "notice":
		line = fmt.Sprintf("-%s- %s", msg.Sender, msg.Text)
	case "action":
		line = msg.Text
	case "error":
		line = "! " + msg.Text
	case "command":
		line = ">> " + msg.Text
	default:
		line = msg.Text
	}

	marker := " "
	if msg.Highlight {
		marker = "!"
	}
	fmt.Printf("%s %s[%s/%s] %s\n", stamp, marker, network, pane, line)
}

// runConsole reads commands from stdin until EOF or cancellation. Bare
// lines go to the active target; slash commands are parsed.
func (a *App) runConsole(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := a.HandleCommand(line); err != nil {
				fmt.Println("! " + err.Error())
			}
		}
	}
}

// activeSession resolves the console's current network to a live session
func (a *App) activeSession() (*session, error) {
	a.consoleMu.Lock()
	name := a.activeNetwork
	a.consoleMu.Unlock()

	if name == "" {
		return nil, fmt.Errorf("no active network; use /connect <network>")
	}
	s, ok := a.Session(name)
	if !ok {
		return nil, fmt.Errorf("not connected to %s", name)
	}
	return s, nil
}

func (a *App) setActiveTarget(network, target string) {
	a.consoleMu.Lock()
	a.activeNetwork = network
	a.activeTarget = target
	a.consoleMu.Unlock()
}

// HandleCommand executes one console input line. Slash commands follow the
// usual client conventions; anything else is sent to the active target.
func (a *App) HandleCommand(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	if !strings.HasPrefix(command, "/") {
		s, err := a.activeSession()
		if err != nil {
			return err
		}
		a.consoleMu.Lock()
		target := a.activeTarget
		a.consoleMu.Unlock()
		if target == "" {
			return fmt.Errorf("no active target; /join a channel or /msg someone first")
		}
		return s.engine.SendMessage(target, command)
	}

	parts := strings.Fields(command[1:])
	if len(parts) == 0 {
		return fmt.Errorf("invalid command")
	}
	cmd := strings.ToUpper(parts[0])

	// Commands that work without a connection
	switch cmd {
	case "CONNECT":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /connect network")
		}
		a.setActiveTarget(parts[1], "")
		return a.ConnectNetwork(parts[1])
	case "DISCONNECT":
		name := ""
		if len(parts) >= 2 {
			name = parts[1]
		} else {
			a.consoleMu.Lock()
			name = a.activeNetwork
			a.consoleMu.Unlock()
		}
		if name == "" {
			return fmt.Errorf("usage: /disconnect [network]")
		}
		return a.DisconnectNetwork(name)
	case "NETWORK", "NET":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /network name")
		}
		if _, ok := a.cfg.Network(parts[1]); !ok {
			return fmt.Errorf("network %q is not configured", parts[1])
		}
		a.setActiveTarget(parts[1], "")
		return nil
	case "NETWORKS":
		for _, n := range a.cfg.Networks {
			state := "offline"
			if s, ok := a.Session(n.Name); ok && s.conn.IsConnected() {
				state = "connected"
			}
			fmt.Printf("  %-20s %s\n", n.Name, state)
		}
		return nil
	case "HELP":
		fmt.Println("commands: /connect /disconnect /network /networks /join /part /msg /notice /me /nick /topic /mode /kick /ban /unban /invite /whois /away /list /names /query /raw /quit")
		return nil
	}

	s, err := a.activeSession()
	if err != nil {
		return err
	}

	switch cmd {
	case "JOIN", "J":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /join #channel [key]")
		}
		channel := parts[1]
		a.setActiveTarget(s.name, channel)
		if len(parts) >= 3 {
			return s.engine.SendRawCommand(fmt.Sprintf("JOIN %s %s", channel, parts[2]))
		}
		return s.engine.JoinChannel(channel)
	case "PART", "LEAVE":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /part #channel [reason]")
		}
		reason := ""
		if len(parts) >= 3 {
			reason = strings.Join(parts[2:], " ")
		}
		return s.engine.PartChannel(parts[1], reason)
	case "MSG", "PRIVMSG", "M":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /msg target message")
		}
		a.setActiveTarget(s.name, parts[1])
		return s.engine.SendMessage(parts[1], strings.Join(parts[2:], " "))
	case "QUERY", "Q":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /query nickname [message]")
		}
		a.setActiveTarget(s.name, parts[1])
		if len(parts) >= 3 {
			return s.engine.SendMessage(parts[1], strings.Join(parts[2:], " "))
		}
		return nil
	case "NOTICE":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /notice target message")
		}
		return s.engine.SendNotice(parts[1], strings.Join(parts[2:], " "))
	case "ME", "ACTION":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /me action text")
		}
		a.consoleMu.Lock()
		target := a.activeTarget
		a.consoleMu.Unlock()
		if target == "" {
			return fmt.Errorf("/me needs an active channel or query")
		}
		return s.engine.SendAction(target, strings.Join(parts[1:], " "))
	case "NICK":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /nick newnick")
		}
		return s.engine.SendRawCommand("NICK " + parts[1])
	case "TOPIC":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /topic #channel [new topic]")
		}
		if len(parts) >= 3 {
			return s.engine.SendRawCommand(fmt.Sprintf("TOPIC %s :%s", parts[1], strings.Join(parts[2:], " ")))
		}
		return s.engine.SendRawCommand("TOPIC " + parts[1])
	case "MODE":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /mode target [modes] [args]")
		}
		return s.engine.SendRawCommand("MODE " + strings.Join(parts[1:], " "))
	case "KICK":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /kick #channel nickname [reason]")
		}
		if len(parts) >= 4 {
			return s.engine.SendRawCommand(fmt.Sprintf("KICK %s %s :%s", parts[1], parts[2], strings.Join(parts[3:], " ")))
		}
		return s.engine.SendRawCommand(fmt.Sprintf("KICK %s %s", parts[1], parts[2]))
	case "BAN":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /ban #channel mask")
		}
		return s.engine.SendRawCommand(fmt.Sprintf("MODE %s +b %s", parts[1], parts[2]))
	case "UNBAN":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /unban #channel mask")
		}
		return s.engine.SendRawCommand(fmt.Sprintf("MODE %s -b %s", parts[1], parts[2]))
	case "INVITE":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /invite nickname #channel")
		}
		return s.engine.SendRawCommand(fmt.Sprintf("INVITE %s %s", parts[1], parts[2]))
	case "WHOIS":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /whois nickname")
		}
		return s.engine.Whois(parts[1])
	case "AWAY":
		if len(parts) >= 2 {
			return s.engine.SendRawCommand("AWAY :" + strings.Join(parts[1:], " "))
		}
		return s.engine.SendRawCommand("AWAY")
	case "LIST":
		if len(parts) >= 2 {
			return s.engine.SendRawCommand("LIST " + strings.Join(parts[1:], " "))
		}
		return s.engine.SendRawCommand("LIST")
	case "NAMES":
		if len(parts) >= 2 {
			return s.engine.SendRawCommand("NAMES " + parts[1])
		}
		return s.engine.SendRawCommand("NAMES")
	case "QUIT":
		reason := ""
		if len(parts) >= 2 {
			reason = strings.Join(parts[1:], " ")
		}
		if err := s.engine.Quit(reason); err != nil {
			return err
		}
		return s.conn.Close()
	case "QUOTE", "RAW":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /raw command [args]")
		}
		return s.engine.SendRawCommand(strings.Join(parts[1:], " "))
	default:
		// Unknown slash command, pass through as a raw protocol line
		return s.engine.SendRawCommand(strings.Join(parts, " "))
	}
}
