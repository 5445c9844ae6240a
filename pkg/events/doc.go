/*
Package events is burrow's in-process message bus.

In service mode every automation component is a handler subscribed to a
topic, the same shape the functions have when deployed individually:

	burrow.demand      DemandSignal     -> launcher
	burrow.task-state  TaskStateChange  -> reconciler

The bus is a watermill Router over a gochannel pub/sub. The gochannel
subscriber waits for each message to be acknowledged before delivering the
next one, so a handler never runs concurrently with itself. Handler errors
are logged and the message is acknowledged anyway: a failed launch or bind
is retried by the next demand signal or lifecycle event, not by redelivery.

Usage:

	bus, _ := events.NewBus()
	bus.HandleDemand("launcher", l.HandleSignal)
	bus.HandleTaskState("reconciler", r.HandleEvent)
	go bus.Run(ctx)
	<-bus.Running()
	_ = bus.PublishDemand(sig)

Messages published before Running is closed are dropped.
*/
package events
