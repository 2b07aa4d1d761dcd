/*
Package client provides a Go client library for the supervisor HTTP API.

The client package wraps the REST+WebSocket surface of a running msm
daemon with a convenient, idiomatic Go interface. It handles request
construction, API key authentication, error envelope decoding, and
provides type-safe methods for every server, backup, schedule, plugin,
Java, and key operation. The CLI subcommands are built entirely on this
package.

# Architecture

The client provides a high-level interface to the daemon's API:

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                             │
	│  import "github.com/craftd/msm/pkg/client"                  │
	│                                                             │
	│  c := client.New(client.Options{Base: "http://..."})        │
	│  srv, err := c.CreateServer(ctx, spec)                      │
	│                                                             │
	└──────────────────┬──────────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐          │
	│  │           Client (JSON round trips)           │          │
	│  │  - High-level methods per resource            │          │
	│  │  - X-API-Key on every request                 │          │
	│  │  - Error envelope -> *apierr.Error            │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │        ConsoleStream (WebSocket)              │          │
	│  │  - history / output / ack frames              │          │
	│  │  - heartbeats answered internally             │          │
	│  └──────────────────┬───────────────────────────┘          │
	└─────────────────────┼───────────────────────────────────────┘
	                      │ HTTP + WebSocket (default :8765)
	                      ▼
	              Supervisor API Server

# Core Features

Request Handling:
  - Single shared http.Client with an end-to-end timeout
  - Context-aware: every method takes a context.Context
  - No retries on control calls (a start that timed out must
    surface, not silently fire twice)

Error Handling:
  - Non-2xx responses decode back into *apierr.Error
  - The stable code survives the wire; match with apierr.HasCode
  - Non-JSON failures degrade to a plain status error

Console Streaming:
  - Console() upgrades to the daemon's WebSocket console
  - Next() hides heartbeat/pong keepalive traffic
  - Send() injects commands; acks arrive as command_ack frames

# Usage

Creating a client:

	c := client.New(client.Options{
		Base:   "http://127.0.0.1:8765",
		APIKey: os.Getenv("MSM_API_KEY"), // empty is fine pre-auth
	})

Creating and starting a server:

	srv, err := c.CreateServer(ctx, &types.CreateServerSpec{
		Name:    "survival",
		Distro:  types.DistroPaper,
		Version: "1.21.1",
		Port:    25565,
	})
	if err != nil {
		return err
	}
	pid, err := c.StartServer(ctx, srv.ID)

Resolving by name (the CLI is name-addressed, the API id-addressed):

	srv, err := c.FindServer(ctx, "survival")
	if err != nil {
		return err // not_found when no such name
	}

Inspecting errors:

	_, err := c.StartServer(ctx, srv.ID)
	if apierr.HasCode(err, "already_running") {
		fmt.Println("already up")
	}

# Console Streaming

Attaching to a live console:

	stream, err := c.Console(ctx, srv.ID)
	if err != nil {
		return err // already_stopped when the server is down
	}
	defer stream.Close()

	go func() {
		_ = stream.Send("say hello from msm")
	}()

	for {
		frame, err := stream.Next()
		if err != nil {
			return nil // stream over
		}
		switch frame.Type {
		case "history":
			for _, ln := range frame.Lines {
				fmt.Println(ln.Text)
			}
		case "output":
			fmt.Println(frame.Data.Text)
		case "server_stopped":
			fmt.Printf("exited with %d\n", *frame.ExitCode)
			return nil
		}
	}

Heartbeats never reach the caller: Next answers them with pongs on the
same connection, keeping the daemon's idle timer fed while the loop
blocks on quiet consoles.

# Frame Types

Frames surfaced by Next:

	history        lines     backlog snapshot, sent once on attach
	output         data      one live console line
	command_ack    success   result of a Send, echoes the command
	server_stopped exit_code the child exited; stream ends after
	error          message   terminal condition (slow reader, etc.)

# Authentication

Every request carries the configured key as X-API-Key. While the daemon
has no active keys the API is open and an empty key works; after the
first key is issued, requests without one fail with code "unauthorized".
Console dials send the same header, so WebSocket attach needs no extra
handling.

Minting the first key:

	issued, err := c.CreateAPIKey(ctx, "admin laptop", types.PermAdmin)
	if err != nil {
		return err
	}
	fmt.Println(issued.Key) // shown exactly once, store it now

# Thread Safety

The Client is safe for concurrent use: it holds only immutable
configuration and the shared http.Client, which is concurrency-safe.

A ConsoleStream is safe for one reader plus any number of Send callers.
Next must not be called from two goroutines at once; writes (Send and
internal pong replies) are serialized by an internal mutex.

# Timeouts

Options.Timeout bounds a whole call, defaulting to 15 minutes because
CreateServer and InstallJava wait for downloads on the daemon side.
Tighter bounds belong in the context:

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	servers, err := c.ListServers(ctx)

# See Also

  - pkg/api for the server-side routes and the console protocol
  - pkg/apierr for the error taxonomy and stable codes
  - pkg/types for the shared resource structs
  - cmd/msm for CLI usage built on this package
*/
package client
