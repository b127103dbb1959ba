package audithook

import "log/slog"

// Option configures a Listener.
type Option func(*Listener)

// WithActions restricts the listener to the listed actions. By default
// every action is recorded. Unknown actions are ignored.
//
// Example:
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobCompleted,
//	        audithook.ActionJobFailed,
//	    ),
//	)
func WithActions(actions ...string) Option {
	return func(l *Listener) {
		l.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			l.enabled[a] = true
		}
	}
}

// WithProgress records job.progress events, which are skipped by default
// because agents may report progress very often.
func WithProgress() Option {
	return func(l *Listener) { l.progress = true }
}

// WithLogger sets a custom logger for recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}
