// Command reliudp-server is a demonstration responder that answers HTTP/1.0
// shaped GET/POST requests over the reliable transport. It is a consumer of
// the façade, not part of the transport's correctness surface.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ventosilenzioso/reliudp/pkg/logger"
	"github.com/ventosilenzioso/reliudp/pkg/reliudp"
)

var (
	listenAddr  string
	configPath  string
	logLevel    string
	lossRate    float64
	dupRate     float64
	corruptRate float64
)

func main() {
	logger.Banner("reliudp-server", "0.1.0")

	root := &cobra.Command{
		Use:   "reliudp-server",
		Short: "Accept one reliable-UDP connection and serve HTTP/1.0-shaped requests",
		RunE:  run,
	}
	root.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:12345", "address to bind")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file (overrides defaults, not flags below)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	root.Flags().Float64Var(&lossRate, "loss-rate", 0, "simulated outbound-direction loss rate")
	root.Flags().Float64Var(&dupRate, "dup-rate", 0, "simulated duplication rate")
	root.Flags().Float64Var(&corruptRate, "corrupt-rate", 0, "simulated corruption rate")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger.SetLevel(logLevel)

	cfg := reliudp.DefaultConfig()
	if configPath != "" {
		loaded, err := reliudp.LoadConfigYAML(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.LossRate, cfg.DupRate, cfg.CorruptRate = lossRate, dupRate, corruptRate

	metrics := reliudp.NewMetrics()
	ep, err := reliudp.Bind(listenAddr, cfg, reliudp.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer ep.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Section("Waiting for a connection")
	conn, err := ep.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Success("connection established (id=%s)", conn.ID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		serve(conn)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return conn.Close()
	case <-done:
		return nil
	}
}

func serve(conn *reliudp.Conn) {
	for {
		data, eof, err := conn.Recv()
		if err != nil {
			logger.Error("recv: %v", err)
			return
		}
		if eof {
			logger.Info("peer closed the stream")
			return
		}

		request := string(data)
		logger.Debug("received %d bytes:\n%s", len(data), request)

		response := handleRequest(request)
		if err := conn.Send(response); err != nil {
			logger.Error("send: %v", err)
			return
		}
	}
}

func handleRequest(request string) []byte {
	switch {
	case strings.HasPrefix(request, "GET"):
		fields := strings.Fields(request)
		if len(fields) < 2 {
			return []byte("HTTP/1.0 400 Bad Request\r\n\r\n")
		}
		if fields[1] == "/index.html" {
			return []byte("HTTP/1.0 200 OK\r\n\r\n<html><body><h1>Welcome</h1></body></html>")
		}
		return []byte("HTTP/1.0 404 Not Found\r\n\r\n<html><body><h1>404 Not Found</h1></body></html>")
	case strings.HasPrefix(request, "POST"):
		return []byte("HTTP/1.0 200 OK\r\n\r\n<html><body><h1>POST received</h1></body></html>")
	default:
		return []byte("HTTP/1.0 400 Bad Request\r\n\r\n")
	}
}
