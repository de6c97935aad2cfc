package models

// ConversationInfo is the wire form of one tracked conversation.
type ConversationInfo struct {
	ID         uint32 `json:"id"`
	Kind       string `json:"kind"`
	AddrA      string `json:"addrA"`
	PortA      uint32 `json:"portA"`
	AddrB      string `json:"addrB,omitempty"`
	PortB      uint32 `json:"portB,omitempty"`
	SetupFrame uint32 `json:"setupFrame"`
	LastFrame  uint32 `json:"lastFrame"`
	Frames     uint64 `json:"frames"`
	Bytes      uint64 `json:"bytes"`
	Template   bool   `json:"template,omitempty"`
	Anchored   bool   `json:"anchored,omitempty"`
}
