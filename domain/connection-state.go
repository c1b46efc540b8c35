package domain

import "fmt"

type ConnectionState int

const (
	ConnectionState_Disconnected ConnectionState = iota
	ConnectionState_Connecting
	ConnectionState_Connected
	ConnectionState_Reconnecting
	ConnectionState_Failed
)

var connectionStateNames = map[ConnectionState]string{
	ConnectionState_Disconnected: "disconnected",
	ConnectionState_Connecting:   "connecting",
	ConnectionState_Connected:    "connected",
	ConnectionState_Reconnecting: "reconnecting",
	ConnectionState_Failed:       "failed",
}

func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	for state, name := range connectionStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}
