package wsserver

import (
	jsoniter "github.com/json-iterator/go"

	"iftopweb/sample"
	"iftopweb/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types pushed to display clients. Payloads are field-named JSON so
// browser code keeps working as fields are added.
const (
	messageFullState       = "full_state"
	messageInterfaceUpdate = "interface_update"
)

// InterfaceState is one interface's wire representation: configuration,
// sampling status, and the latest sample (absent while no data has arrived).
type InterfaceState struct {
	Interface   string                  `json:"interface"`
	CapacityBps float64                 `json:"capacity_bps"`
	Status      sample.InterfaceStatus  `json:"status"`
	HasData     bool                    `json:"has_data"`
	Sample      *sample.InterfaceSample `json:"sample,omitempty"`
}

type fullStateMessage struct {
	Type       string           `json:"type"`
	Interfaces []InterfaceState `json:"interfaces"`
}

type interfaceUpdateMessage struct {
	Type      string         `json:"type"`
	Interface InterfaceState `json:"interface"`
}

func stateFromView(v store.View) InterfaceState {
	return InterfaceState{
		Interface:   v.Interface,
		CapacityBps: v.CapacityBps,
		Status:      v.Status,
		HasData:     v.HasData(),
		Sample:      v.Sample,
	}
}

// encodeFullState serializes the complete configured-interface state for a
// newly connected client.
func encodeFullState(views []store.View) ([]byte, error) {
	msg := fullStateMessage{Type: messageFullState, Interfaces: make([]InterfaceState, 0, len(views))}
	for _, v := range views {
		msg.Interfaces = append(msg.Interfaces, stateFromView(v))
	}
	return json.Marshal(msg)
}

// encodeUpdate serializes one interface's new state. The broadcaster encodes
// once per update, not once per client.
func encodeUpdate(v store.View) ([]byte, error) {
	return json.Marshal(interfaceUpdateMessage{Type: messageInterfaceUpdate, Interface: stateFromView(v)})
}
