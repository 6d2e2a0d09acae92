package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nima-ghaffari/Transfer/internal/chat"
	"github.com/nima-ghaffari/Transfer/internal/config"
	"github.com/nima-ghaffari/Transfer/internal/discovery"
	"github.com/nima-ghaffari/Transfer/internal/event"
	"github.com/nima-ghaffari/Transfer/internal/server"
)

var serveFlags struct {
	port       int
	path       string
	mode       string
	password   string
	maxClients int
	announce   bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Share a file or directory with connecting peers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 8000, "transfer port (chat on port+1, web mirror on port+2)")
	serveCmd.Flags().StringVar(&serveFlags.path, "path", "", "file or directory to share")
	serveCmd.Flags().StringVar(&serveFlags.mode, "mode", "directory", "share mode: directory or file")
	serveCmd.Flags().StringVar(&serveFlags.password, "password", "", "require this password from peers")
	serveCmd.Flags().IntVar(&serveFlags.maxClients, "max-clients", 10, "maximum concurrent peers")
	serveCmd.Flags().BoolVar(&serveFlags.announce, "announce", false, "announce the share over mDNS")
	serveCmd.MarkFlagRequired("path")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := &config.ShareConfiguration{
		Mode:       config.ShareMode(serveFlags.mode),
		SharedPath: serveFlags.path,
		Password:   serveFlags.password,
		MaxClients: serveFlags.maxClients,
		Port:       serveFlags.port,
	}

	bus := event.NewBus(logrus.StandardLogger())
	srv := server.New(cfg, bus)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("could not start server: %w", err)
	}
	defer srv.Stop()

	if serveFlags.announce {
		ann, err := discovery.Announce(cfg.Port, string(cfg.Mode))
		if err != nil {
			logrus.WithError(err).Warn("mDNS announcement failed, serving without it")
		} else {
			defer ann.Shutdown()
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go console(srv, done)

	select {
	case <-stop:
		fmt.Println("\nShutting down...")
	case <-done:
	}
	return nil
}

// console is the operator command loop on stdin, the admin surface a GUI
// would otherwise drive.
func console(srv *server.Server, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Commands: status | pause | kick <identity> | msg <ip> <text> | warn <ip> <text> | quit")

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "status":
			sessions := srv.Sessions()
			if len(sessions) == 0 {
				fmt.Println("No connected clients.")
				continue
			}
			for _, s := range sessions {
				file := s.CurrentFile
				if file == "" {
					file = "-"
				}
				fmt.Printf("%-22s %-14s %-30s %3d%%\n", s.Addr, s.Status, file, s.Progress)
			}
			if srv.Paused() {
				fmt.Println("Transfers are PAUSED.")
			}

		case "pause":
			if srv.PauseToggle() {
				fmt.Println("Paused: new connections rejected, in-flight chunks stalled.")
			} else {
				fmt.Println("Resumed.")
			}

		case "kick":
			if len(fields) != 2 {
				fmt.Println("Usage: kick <identity>")
				continue
			}
			if err := srv.ForceDisconnect(fields[1]); err != nil {
				fmt.Println("kick:", err)
			}

		case "msg", "warn":
			if len(fields) < 3 {
				fmt.Printf("Usage: %s <ip> <text>\n", fields[0])
				continue
			}
			kind := chat.Message
			if fields[0] == "warn" {
				kind = chat.Warning
			}
			if !srv.SendChat(fields[1], kind, strings.Join(fields[2:], " ")) {
				fmt.Println("Not delivered: client has no live chat connection.")
			}

		case "quit":
			return

		default:
			fmt.Println("Unknown command. Commands: status | pause | kick | msg | warn | quit")
		}
	}
}
