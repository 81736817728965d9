package server

import (
	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Timer is a cancellable scheduled callback.
type Timer = stomp.Timer

// Scheduler provides the time source and timers used for heartbeats and ack timeouts.
type Scheduler = stomp.Scheduler

// SystemScheduler is the Scheduler backed by the time package.
var SystemScheduler = stomp.SystemScheduler
