package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nima-ghaffari/Transfer/internal/client"
	"github.com/nima-ghaffari/Transfer/internal/discovery"
)

var fetchFlags struct {
	server   string
	password string
	out      string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [files...]",
	Short: "Download files from a server (all offered files when none are named)",
	RunE:  runFetch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the files a server offers",
	RunE:  runList,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find shares announced on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		shares, err := discovery.Browse(5 * time.Second)
		if err != nil {
			return err
		}
		if len(shares) == 0 {
			fmt.Println("No shares found.")
			return nil
		}
		for _, s := range shares {
			fmt.Printf("%s  %s:%d  (%s share)\n", s.Host, s.IP, s.Port, s.Mode)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{fetchCmd, listCmd} {
		c.Flags().StringVarP(&fetchFlags.server, "server", "s", "", "server address host:port")
		c.Flags().StringVar(&fetchFlags.password, "password", "", "share password, prompted when required and not given")
		c.MarkFlagRequired("server")
	}
	fetchCmd.Flags().StringVarP(&fetchFlags.out, "out", "o", ".", "directory to save files into")
	rootCmd.AddCommand(fetchCmd, listCmd, discoverCmd)
}

func connect() (*client.Client, error) {
	c, err := client.Dial(fetchFlags.server)
	if err != nil {
		return nil, err
	}
	if c.NeedsPassword && fetchFlags.password == "" {
		fmt.Print("Password: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("reading password: %w", err)
		}
		fetchFlags.password = string(secret)
	}
	if err := c.Authenticate(fetchFlags.password); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	names, err := c.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()
	c.ShowProgress = true

	names := args
	if len(names) == 0 {
		names, err = c.List()
		if err != nil {
			return err
		}
	}
	if len(names) == 0 {
		fmt.Println("Server offers no files.")
		return nil
	}

	if err := os.MkdirAll(fetchFlags.out, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	received, err := c.Download(names, fetchFlags.out)
	if err != nil {
		return err
	}
	fmt.Printf("Received %d of %d file(s).\n", len(received), len(names))
	return nil
}
