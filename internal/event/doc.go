// Package event provides a small synchronous publish/subscribe bus used to
// report process and deployment progress without coupling the supervisor
// and orchestrator to their observers (the CLI progress printer, tests).
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeProcessEnded, func(e event.Event) {
//	    ended := e.(event.ProcessEndedEvent)
//	    fmt.Println(ended.Host, ended.OK)
//	})
package event
