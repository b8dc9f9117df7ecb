package models

import (
	"encoding/json"
)

// Priority orders command handling on the daemon side.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Command represents one outbound request intended to cause a daemon-side
// effect, correlated to its eventual result by CorrelationID.
type Command struct {
	CorrelationID string   `json:"correlationId"`
	Command       string   `json:"command"`
	Args          []string `json:"args"`
	Priority      Priority `json:"priority"`
}

// CommandResult is the daemon's reply to a Command.
type CommandResult struct {
	CorrelationID string          `json:"correlationId"`
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ResultState is the optional state change carried inside a successful
// command result, merged into the store under the same writer discipline as
// events.
type ResultState struct {
	Session *Session `json:"session,omitempty"`
	Agent   *Agent   `json:"agent,omitempty"`
	Task    *Task    `json:"task,omitempty"`
}

// DecodeResultState extracts any state change a successful result carries.
// Results without one (or failed results) yield nil, nil.
func (r *CommandResult) DecodeResultState() (*ResultState, error) {
	if !r.Success || len(r.Result) == 0 {
		return nil, nil
	}
	var rs ResultState
	if err := json.Unmarshal(r.Result, &rs); err != nil {
		return nil, err
	}
	if rs.Session == nil && rs.Agent == nil && rs.Task == nil {
		return nil, nil
	}
	return &rs, nil
}
