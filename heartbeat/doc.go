// Package heartbeat publishes liveness messages for a jobmanager process.
//
// Sender.Run is the archetypal background task: it loops until its context
// is cancelled and never finishes on its own.
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Bus:     b,
//	    AgentID: "jobmanager-1",
//	})
//	pool.GoBackground(ctx, "heartbeat", sender.Run)
//
// Heartbeats are JSON on subject "heartbeat.<agent_id>".
package heartbeat
