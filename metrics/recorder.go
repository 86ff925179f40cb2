// Package metrics records orchestrator activity: turns, guard violations,
// validation events, tool executions and run outcomes.
package metrics

import "time"

// Recorder is implemented by the Prometheus recorder and the no-op recorder.
type Recorder interface {
	// ObserveTurn counts one orchestrated turn by outcome (accepted, reprompt, fallback, failed).
	ObserveTurn(outcome string)
	ObserveGuardViolation(code string)
	ObserveValidationEvent(actionType, reason string)
	ObserveToolExecution(responseType, status string, duration time.Duration)
	// ObserveRun counts one finished run by its final workflow state.
	ObserveRun(state string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func Nop() Recorder { return NoopRecorder{} }

func (NoopRecorder) ObserveTurn(string) {}
func (NoopRecorder) ObserveGuardViolation(string) {}
func (NoopRecorder) ObserveValidationEvent(string, string) {}
func (NoopRecorder) ObserveToolExecution(string, string, time.Duration) {}
func (NoopRecorder) ObserveRun(string) {}

var _ Recorder = NoopRecorder{}
