// Package bus is a small pub/sub abstraction with two backends:
//
//   - MemoryBus: in-process channels, used when no broker is configured
//   - NATSBus: github.com/nats-io/nats.go
//
// The host publishes heartbeats on it while running and a final "draining"
// heartbeat during shutdown.
//
//	b, err := bus.NewNATSBus(bus.DefaultNATSConfig())
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	sub, _ := b.Subscribe("heartbeat.jobmanager")
//	for msg := range sub.Messages() {
//	    fmt.Println(string(msg.Data))
//	}
package bus
