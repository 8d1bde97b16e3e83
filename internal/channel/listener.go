package channel

import "github.com/jwalitptl/restaurant-notify/internal/model"

// Listener observes a Channel. Callbacks run synchronously on the
// connection's read goroutine (or the goroutine driving Connect and
// Disconnect), in arrival order, so they must not block for long.
type Listener interface {
	OnConnect()
	OnDisconnect(code int)
	OnNotification(rec model.NotificationRecord)
	OnError(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connect      func()
	Disconnect   func(code int)
	Notification func(rec model.NotificationRecord)
	Error        func(err error)
}

func (f ListenerFuncs) OnConnect() {
	if f.Connect != nil {
		f.Connect()
	}
}

func (f ListenerFuncs) OnDisconnect(code int) {
	if f.Disconnect != nil {
		f.Disconnect(code)
	}
}

func (f ListenerFuncs) OnNotification(rec model.NotificationRecord) {
	if f.Notification != nil {
		f.Notification(rec)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
