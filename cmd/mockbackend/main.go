// Command mockbackend serves the speech backend protocol on a local port.
// It recognizes nothing: every fragment describes the audio it received.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"node.town/tabscribe/stt/peer"
)

var rootCmd = &cobra.Command{
	Use:   "mockbackend",
	Short: "Run a local speech backend that describes the audio it hears",
	Run:   runServe,
}

func init() {
	rootCmd.Flags().IntP("port", "p", 43007, "Port to listen on")
	rootCmd.Flags().Duration("chunk", peer.DefaultMinChunk, "Audio buffered per recognition step")
}

func runServe(cmd *cobra.Command, args []string) {
	port, _ := cmd.Flags().GetInt("port")
	chunk, _ := cmd.Flags().GetDuration("chunk")

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "mock",
	})

	p := &peer.Peer{
		Logger:        logger,
		MinChunk:      chunk,
		NewRecognizer: peer.NewEcho,
		OnConnect: func(c *peer.Conn) {
			logger.Info("connect")
		},
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listen", "url", fmt.Sprintf("ws://localhost:%d", port))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("serve", "error", err.Error())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
