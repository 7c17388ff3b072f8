package model

import "strings"

// Status is the lifecycle state of an instance. Values reported by the
// provider that have no mapping are stored verbatim, so a Status is not
// guaranteed to be one of the constants below.
type Status string

const (
	StatusCreated      Status = "created"
	StatusQRRequested  Status = "qr_requested"
	StatusQRReady      Status = "qr_ready"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusDisconnected Status = "disconnected"
)

var transitions = map[Status][]Status{
	StatusCreated:      {StatusQRRequested, StatusQRReady},
	StatusQRRequested:  {StatusQRReady},
	StatusQRReady:      {StatusQRReady, StatusConnecting, StatusOpen, StatusDisconnected},
	StatusConnecting:   {StatusQRReady, StatusOpen, StatusDisconnected},
	StatusOpen:         {StatusConnecting, StatusDisconnected},
	StatusDisconnected: {StatusQRRequested, StatusQRReady, StatusConnecting},
}

var providerStates = map[string]Status{
	"open":         StatusOpen,
	"connected":    StatusOpen,
	"connecting":   StatusConnecting,
	"close":        StatusDisconnected,
	"closed":       StatusDisconnected,
	"disconnected": StatusDisconnected,
}

// Known reports whether s is one of the lifecycle states.
func (s Status) Known() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether an instance in state from may move to state to.
// An instance parked on an unmapped provider string may move to any known state.
func CanTransition(from, to Status) bool {
	if !to.Known() {
		return false
	}
	allowed, ok := transitions[from]
	if !ok {
		return true
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// MapProviderState maps a connection state string reported by the provider
// onto a lifecycle state. The second result is false for unmapped strings.
func MapProviderState(state string) (Status, bool) {
	s, ok := providerStates[strings.ToLower(strings.TrimSpace(state))]
	return s, ok
}
