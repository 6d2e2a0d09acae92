package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nima-ghaffari/Transfer/internal/client"
)

var chatServer string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat with a server",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatServer, "server", "s", "", "server address host:port (transfer port)")
	chatCmd.MarkFlagRequired("server")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	addr, err := client.ChatAddr(chatServer)
	if err != nil {
		return err
	}
	cc, err := client.DialChat(addr)
	if err != nil {
		return err
	}
	defer cc.Close()
	fmt.Println("Connected. Type messages, /quit to leave.")

	go func() {
		for {
			body, warning, err := cc.Receive()
			if err != nil {
				fmt.Println("\nChat connection lost.")
				os.Exit(0)
			}
			if warning {
				fmt.Printf("\r!! SERVER WARNING: %s\n> ", body)
			} else {
				fmt.Printf("\rServer: %s\n> ", body)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			return nil
		}
		if line != "" {
			if err := cc.SendMessage(line); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
		}
		fmt.Print("> ")
	}
	return nil
}
