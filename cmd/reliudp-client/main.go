// Command reliudp-client is a demonstration initiator that sends a handful
// of HTTP/1.0-shaped requests over the reliable transport and prints the
// responses. It is a consumer of the façade, not part of the transport's
// correctness surface.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ventosilenzioso/reliudp/pkg/logger"
	"github.com/ventosilenzioso/reliudp/pkg/reliudp"
)

var (
	serverAddr  string
	configPath  string
	logLevel    string
	lossRate    float64
	dupRate     float64
	corruptRate float64
	resource    string
	requests    int
)

func main() {
	logger.Banner("reliudp-client", "0.1.0")

	root := &cobra.Command{
		Use:   "reliudp-client",
		Short: "Connect to a reliudp-server and issue HTTP/1.0-shaped requests",
		RunE:  run,
	}
	root.Flags().StringVar(&serverAddr, "server", "127.0.0.1:12345", "server address")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file (overrides defaults, not flags below)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	root.Flags().Float64Var(&lossRate, "loss-rate", 0, "simulated outbound-direction loss rate")
	root.Flags().Float64Var(&dupRate, "dup-rate", 0, "simulated duplication rate")
	root.Flags().Float64Var(&corruptRate, "corrupt-rate", 0, "simulated corruption rate")
	root.Flags().StringVar(&resource, "resource", "/index.html", "resource path for the GET requests")
	root.Flags().IntVar(&requests, "requests", 5, "number of requests to issue before closing")

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

	ep, err := reliudp.Bind("127.0.0.1:0", cfg)
	if err != nil {
		return err
	}
	defer ep.Close()

	logger.Section(fmt.Sprintf("Connecting to %s", serverAddr))
	conn, err := ep.Connect(serverAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Success("connected (id=%s)", conn.ID())

	for i := 0; i < requests; i++ {
		last := i == requests-1
		request := fmt.Sprintf("GET %s HTTP/1.0\r\n\r\n", resource)
		if err := conn.Send([]byte(request)); err != nil {
			return err
		}
		logger.Debug("sent request %d/%d", i+1, requests)

		response, eof, err := conn.Recv()
		if err != nil {
			return err
		}
		if eof {
			logger.Info("server closed the stream early")
			break
		}
		logger.Info("response %d/%d:\n%s", i+1, requests, string(response))

		if last {
			break
		}
	}

	return conn.Close()
}
