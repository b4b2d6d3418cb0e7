package auth

import "log/slog"

// Event is delivered to observers after every state mutation.
// Err carries the report that accompanied the transition, if any: a
// normalization error, a backend error, or joined logout failures.
type Event struct {
	State SessionState
	Err   error
}

// Observer receives session events synchronously and in mutation order.
// Observers must not call Login or Logout from SessionChanged.
type Observer interface {
	SessionChanged(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) SessionChanged(e Event) { f(e) }

// LogObserver logs every session event.
func LogObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(e Event) {
		attrs := []any{"status", e.State.Status.String()}
		if e.State.LoggedIn() {
			attrs = append(attrs, "user_id", e.State.Session.UserID)
		}
		if e.Err != nil {
			logger.Warn("session event", append(attrs, "error", e.Err)...)
			return
		}
		logger.Info("session event", attrs...)
	})
}
