package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var serverConsoleCmd = &cobra.Command{
	Use:   "console NAME",
	Short: "Attach to a server's live console",
	Long: `Attach to a server's live console.

Recent output is replayed first, then new lines stream as the server
prints them. Anything you type is sent to the server as a console
command. Detach with Ctrl+C; the server keeps running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		stream, err := c.Console(ctx, srv.ID)
		if err != nil {
			return err
		}
		defer stream.Close()
		fmt.Printf("Attached to %s. Type commands; Ctrl+C detaches.\n", srv.Name)

		// Closing the stream is what unblocks Next below.
		go func() {
			<-ctx.Done()
			stream.Close()
		}()

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := stream.Send(line); err != nil {
					return
				}
			}
		}()

		for {
			frame, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil {
					fmt.Println("\nDetached.")
					return nil
				}
				return fmt.Errorf("console stream closed: %w", err)
			}
			switch frame.Type {
			case "history":
				for _, ln := range frame.Lines {
					fmt.Println(ln.Text)
				}
			case "output":
				if frame.Data != nil {
					fmt.Println(frame.Data.Text)
				}
			case "command_ack":
				if frame.Success != nil && !*frame.Success {
					fmt.Printf("! command rejected: %s\n", frame.Message)
				}
			case "server_stopped":
				code := 0
				if frame.ExitCode != nil {
					code = *frame.ExitCode
				}
				fmt.Printf("Server stopped (exit code %d).\n", code)
				return nil
			case "error":
				return fmt.Errorf("console: %s", frame.Message)
			}
		}
	},
}
