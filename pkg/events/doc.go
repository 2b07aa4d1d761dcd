/*
Package events provides the in-process pub/sub broker that connects the
supervisor's components without coupling them.

Producers (lifecycle engine, backup manager, scheduler, plugin manager)
publish typed events; consumers (watchdog, API event stream) subscribe
and react. The lifecycle engine does not know the watchdog exists; it
announces "server.exited" and the watchdog decides whether that death
deserves a restart.

# Event Types

	server.created    a server row was provisioned
	server.imported   an existing directory was adopted
	server.started    a child process is up
	server.stopped    a clean operator-requested stop finished
	server.exited     the child died; Intentional and ExitCode say how
	server.deleted    row and (optionally) directory removed
	backup.started    archive writing began
	backup.finished   archive completed, record updated
	backup.failed     archive writing failed, Message has the cause
	schedule.fired    a cron schedule dispatched its action
	plugin.changed    a plugin was installed, toggled, or removed

The watchdog keys on server.exited with Intentional=false; everything
else exists for the API's event feed and the logs.

# Delivery Semantics

Publish never blocks a producer: events funnel through one channel into
a single broadcast goroutine, and a subscriber whose buffer is full
misses that event. Consumers that need a complete picture must read the
catalog, not replay events; the broker is a notification fabric, not a
journal.

Events published after Stop are dropped. Subscribe after Stop returns a
channel that never delivers.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			if ev.Type == events.EventServerExited && !ev.Intentional {
				// crashed; decide about a restart
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:       events.EventServerStarted,
		ServerID:   srv.ID,
		ServerName: srv.Name,
	})

# Thread Safety

All Broker methods are safe for concurrent use. Unsubscribe closes the
subscriber channel, so consumers ranging over it terminate cleanly.
*/
package events
