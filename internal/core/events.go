package core

import "fmt"

// Event is anything the orchestrator reacts to. The set is closed: only
// types in this package implement it.
type Event interface {
	eventName() string
}

type FileSelected struct{ Path string }

type PrintStarted struct{ Path string }

type PrintCompleted struct{ Path string }

// PrintFailed is reported when the engine aborts a job. The queue treats it
// like a completion.
type PrintFailed struct {
	Path string
	Err  error
}

type StateChanged struct{ State EngineState }

type FileAdded struct{ Path string }

type FileRemoved struct{ Path string }

type SettingsUpdated struct{}

type ClientConnected struct{}

type TriggerAction int

const (
	TriggerAutoStart TriggerAction = iota
	TriggerBlackoutPause
	TriggerBlackoutResume
)

func (a TriggerAction) String() string {
	switch a {
	case TriggerAutoStart:
		return "auto_start"
	case TriggerBlackoutPause:
		return "blackout_pause"
	case TriggerBlackoutResume:
		return "blackout_resume"
	default:
		return fmt.Sprintf("trigger(%d)", int(a))
	}
}

type TriggerFired struct{ Action TriggerAction }

func (FileSelected) eventName() string    { return "file_selected" }
func (PrintStarted) eventName() string    { return "print_started" }
func (PrintCompleted) eventName() string  { return "print_completed" }
func (PrintFailed) eventName() string     { return "print_failed" }
func (StateChanged) eventName() string    { return "state_changed" }
func (FileAdded) eventName() string       { return "file_added" }
func (FileRemoved) eventName() string     { return "file_removed" }
func (SettingsUpdated) eventName() string { return "settings_updated" }
func (ClientConnected) eventName() string { return "client_connected" }
func (TriggerFired) eventName() string    { return "trigger_fired" }
