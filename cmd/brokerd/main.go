// brokerd – the background daemon that supervises AI coding agent PTY
// sessions.
//
// Usage:
//
//	brokerd [--root <dir>] [--mcp]
//
// The daemon listens on a Unix domain socket at <root>/brokerd.sock for
// brokerctl and serves an HTTP/WebSocket terminal surface (per broker.yaml's
// web section). Started with --mcp, it instead serves only the MCP stdio tool
// surface on its own stdin/stdout. brokerctl does not start it; run it
// yourself or from a service manager.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ccbroker/broker/internal/agent"
	"github.com/ccbroker/broker/internal/config"
	"github.com/ccbroker/broker/internal/ctl"
	"github.com/ccbroker/broker/internal/logprovider"
	"github.com/ccbroker/broker/internal/mcpsrv"
	"github.com/ccbroker/broker/internal/session"
	"github.com/ccbroker/broker/internal/web"
)

func main() {
	defaultRoot, err := config.Root()
	if err != nil {
		log.Fatalf("cannot determine data root: %v", err)
	}

	rootDir := flag.String("root", defaultRoot, "brokerd data directory (env: CCBROKER_ROOT)")
	mcpMode := flag.Bool("mcp", false, "serve the MCP stdio tool surface on stdin/stdout instead of the daemon")
	flag.Parse()

	cfg, err := config.Load(*rootDir)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	manager, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("build session manager: %v", err)
	}

	if *mcpMode {
		srv := mcpsrv.New(manager)
		if err := srv.Serve(os.Stdin, os.Stdout); err != nil {
			log.Fatalf("mcp serve: %v", err)
		}
		return
	}

	if err := os.MkdirAll(*rootDir, 0o755); err != nil {
		log.Fatalf("create root dir: %v", err)
	}
	socketPath := filepath.Join(*rootDir, "brokerd.sock")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		os.Remove(socketPath)
		manager.ShutdownAll()
		os.Exit(0)
	}()

	ctlSrv := ctl.New(manager)
	go func() {
		if err := ctlSrv.Run(socketPath); err != nil {
			log.Fatalf("ctl run: %v", err)
		}
	}()

	webSrv := web.NewServer(manager, cfg.Web.AuthToken, cfg.Web.InputEnabled, nil)
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	log.Printf("brokerd: web surface listening on %s", addr)
	if err := http.ListenAndServe(addr, webSrv); err != nil {
		log.Fatalf("web listen: %v", err)
	}
}

// buildManager constructs one AgentSession per configured agent, each wired
// to its matching log provider (if any), and collects them into a Manager.
func buildManager(cfg config.Config) (*session.Manager, error) {
	def, startup, queueWait, maxStuck, maxRetries, retryDelay := cfg.Timeouts.Resolve()
	timeouts := session.Timeouts{
		Default:          def,
		Startup:          startup,
		ReadyPoll:        session.DefaultTimeouts().ReadyPoll,
		DispatchPoll:     session.DefaultTimeouts().DispatchPoll,
		QueueWait:        queueWait,
		MaxStuckDuration: maxStuck,
		MaxStartRetries:  maxRetries,
		StartRetryDelay:  retryDelay,
	}

	sessions := make([]*session.AgentSession, 0, len(cfg.Agents))
	for _, entry := range cfg.Agents {
		descriptor := entry.Descriptor()
		a := agent.New(descriptor)

		var provider logprovider.Provider
		// "claudecode" names the native-PTY adapter, which has no log provider.
		if descriptor.LogProviderKind != "" && descriptor.LogProviderKind != "claudecode" {
			p, err := logprovider.New(descriptor.LogProviderKind, entry.LogPathPattern)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", entry.Name, err)
			}
			provider = p
		}

		sessions = append(sessions, session.New(entry.Name, a, provider, descriptor.WorkingDir, timeouts))
	}

	return session.NewManager(sessions), nil
}
