package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/parsnet/l2link/internal/application"
	"github.com/parsnet/l2link/internal/config"
	"github.com/parsnet/l2link/internal/logging"
	"github.com/parsnet/l2link/internal/tunnel"
)

const shutdownGracePeriod = 10 * time.Second

var signalNotify = signal.Notify

func main() {
	app := kingpin.New("l2link", "Two-endpoint L2TP tunnel manager for an IRAN/KHAREJ pair")
	configPath := app.Flag("config", "Path to the configuration file").Default(config.DefaultPath).String()
	strict := app.Flag("strict", "Fail on a corrupt configuration file instead of starting empty").Bool()
	debug := app.Flag("debug", "Enable debug logging").Bool()

	roleCmd := app.Command("role", "Assign this endpoint's role")
	roleArg := roleCmd.Arg("role", "IRAN or KHAREJ; pass none to clear").Required().String()

	endpointsCmd := app.Command("endpoints", "Store the public addresses of both endpoints")
	ipIran := endpointsCmd.Flag("iran", "Public address of the IRAN endpoint").String()
	ipKharej := endpointsCmd.Flag("kharej", "Public address of the KHAREJ endpoint").String()

	portCmd := app.Command("port", "Manage forwarded ports")
	portAddCmd := portCmd.Command("add", "Add a port to the forwarded set")
	portAddArg := portAddCmd.Arg("port", "Port number").Required().Int()
	portRemoveCmd := portCmd.Command("remove", "Remove a port from the forwarded set")
	portRemoveArg := portRemoveCmd.Arg("port", "Port number").Required().Int()
	portListCmd := portCmd.Command("list", "List forwarded ports")

	showCmd := app.Command("show", "Print the stored configuration document")
	idsCmd := app.Command("tunnel-ids", "Print the resolved tunnel identifiers")
	planCmd := app.Command("plan", "Print the commands that would establish the tunnel")
	resetCmd := app.Command("reset", "Clear role, endpoint addresses, and forwarded ports")

	serveCmd := app.Command("serve", "Run the local admin API")
	listenAddr := serveCmd.Flag("listen", "Admin API listen address").Default("127.0.0.1:7075").String()
	requestLogging := serveCmd.Flag("request-logging", "Emit access logs for admin requests").Default("true").Bool()
	rateLimitRPS := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("25").Float64()
	rateLimitBurst := serveCmd.Flag("rate-limit-burst", "Burst capacity for the rate limiter").Default("50").Int()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == serveCmd.FullCommand() {
		logger, err := logging.New(*debug)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize logger: %v", err))
		}
		defer func() {
			_ = logger.Sync()
		}()

		serve(logger, application.Options{
			ConfigPath:           *configPath,
			ListenAddr:           *listenAddr,
			EnableRequestLogging: *requestLogging,
			RateLimitRPS:         *rateLimitRPS,
			RateLimitBurst:       *rateLimitBurst,
			StrictLoad:           *strict,
		})
		return
	}

	var storeOpts []config.Option
	if *strict {
		storeOpts = append(storeOpts, config.Strict())
	}
	store, err := config.Open(*configPath, storeOpts...)
	app.FatalIfError(err, "open configuration store")

	switch command {
	case roleCmd.FullCommand():
		role := config.Role(strings.ToUpper(*roleArg))
		if role == config.Role("NONE") {
			role = config.RoleNone
		}
		app.FatalIfError(store.SetRole(role), "set role")
		fmt.Printf("role set to %s\n", printableRole(store.Role()))

	case endpointsCmd.FullCommand():
		if *ipIran == "" && *ipKharej == "" {
			app.Fatalf("at least one of --iran or --kharej is required")
		}
		err := store.Update(func(d *config.Document) {
			if *ipIran != "" {
				d.IPIran = ipIran
			}
			if *ipKharej != "" {
				d.IPKharej = ipKharej
			}
		})
		app.FatalIfError(err, "store endpoints")
		fmt.Printf("ip_iran=%s ip_kharej=%s\n", store.IPIran(), store.IPKharej())

	case portAddCmd.FullCommand():
		app.FatalIfError(store.AddPort(*portAddArg), "add port")
		fmt.Printf("forwarded ports: %v\n", store.ForwardedPorts())

	case portRemoveCmd.FullCommand():
		app.FatalIfError(store.RemovePort(*portRemoveArg), "remove port")
		fmt.Printf("forwarded ports: %v\n", store.ForwardedPorts())

	case portListCmd.FullCommand():
		fmt.Printf("forwarded ports: %v\n", store.ForwardedPorts())

	case showCmd.FullCommand():
		doc := store.Snapshot()
		data, err := yaml.Marshal(&doc)
		app.FatalIfError(err, "encode configuration")
		fmt.Print(string(data))

	case idsCmd.FullCommand():
		ids := store.TunnelIDs()
		fmt.Printf("tunnel_id=%d peer_tunnel_id=%d session_id=%d peer_session_id=%d\n",
			ids.TunnelID, ids.PeerTunnelID, ids.SessionID, ids.PeerSessionID)

	case planCmd.FullCommand():
		params, err := tunnel.FromStore(store)
		app.FatalIfError(err, "build tunnel plan")
		for _, cmd := range params.SetupCommands() {
			fmt.Println(strings.Join(cmd, " "))
		}
		for _, cmd := range params.ForwardCommands() {
			fmt.Println(strings.Join(cmd, " "))
		}

	case resetCmd.FullCommand():
		app.FatalIfError(store.ClearAll(), "reset configuration")
		fmt.Println("configuration cleared")
	}
}

func serve(logger *zap.Logger, opts application.Options) {
	a, err := application.New(opts, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := a.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(a.Server(), shutdownGracePeriod, logger)
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}

func printableRole(role config.Role) string {
	if role == config.RoleNone {
		return "none"
	}
	return string(role)
}
