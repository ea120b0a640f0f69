package registry

import (
	"errors"
	"strings"
	"time"
)

// Status is the liveness state of an agent.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
)

// ParseStatus converts a raw status string, defaulting to offline.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(s)) {
	case StatusOnline:
		return StatusOnline
	case StatusBusy:
		return StatusBusy
	case StatusError:
		return StatusError
	default:
		return StatusOffline
	}
}

// ConnectionType is how an agent is reached.
type ConnectionType string

const (
	ConnHTTP      ConnectionType = "http"
	ConnWebSocket ConnectionType = "websocket"
	ConnGRPC      ConnectionType = "grpc"
)

// ParseConnectionType converts a raw connection type, defaulting to http.
func ParseConnectionType(s string) ConnectionType {
	switch ConnectionType(strings.ToLower(s)) {
	case ConnWebSocket:
		return ConnWebSocket
	case ConnGRPC:
		return ConnGRPC
	default:
		return ConnHTTP
	}
}

var (
	ErrInvalidFilter = errors.New("invalid discovery filter")
	ErrInvalidAgent  = errors.New("invalid agent")
)

// Agent is one participant of the agent network.
type Agent struct {
	Name           string         `json:"name"`
	Version        string         `json:"version"`
	Description    string         `json:"description"`
	Endpoint       string         `json:"endpoint"`
	ConnectionType ConnectionType `json:"connection_type"`
	Capabilities   []string       `json:"capabilities"`
	Protocols      []string       `json:"protocols"`
	Status         Status         `json:"status"`
	LastSeen       time.Time      `json:"last_seen"`
	ResponseTimeMS *int64         `json:"response_time_ms,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Failures       int            `json:"failures"`
}

// HasCapability reports whether the agent carries the tag (case-insensitive).
func (a *Agent) HasCapability(capability string) bool {
	return containsFold(a.Capabilities, capability)
}

// SpeaksProtocol reports whether the agent lists the protocol tag (case-insensitive).
func (a *Agent) SpeaksProtocol(protocol string) bool {
	return containsFold(a.Protocols, protocol)
}

func (a *Agent) clone() Agent {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	c.Protocols = append([]string(nil), a.Protocols...)
	if a.ResponseTimeMS != nil {
		v := *a.ResponseTimeMS
		c.ResponseTimeMS = &v
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// StatusSnapshot is the status view returned by GetStatus.
type StatusSnapshot struct {
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	LastSeen       time.Time `json:"last_seen"`
	ResponseTimeMS *int64    `json:"response_time_ms,omitempty"`
	Capabilities   []string  `json:"capabilities"`
	Endpoint       string    `json:"endpoint"`
	Failures       int       `json:"failures"`
}

// Filter narrows a discovery query.
type Filter struct {
	Capability string `json:"capability_filter,omitempty"`
	Protocol   string `json:"protocol_version,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// DefaultMaxResults caps discovery results when the filter leaves it unset.
const DefaultMaxResults = 50

func (f Filter) match(a *Agent) bool {
	if f.Capability != "" && !a.HasCapability(f.Capability) {
		return false
	}
	if f.Protocol != "" && !a.SpeaksProtocol(f.Protocol) {
		return false
	}
	return true
}

// DiscoveryMetadata describes one discovery run.
type DiscoveryMetadata struct {
	Timestamp       time.Time `json:"timestamp"`
	FilterApplied   string    `json:"filter_applied,omitempty"`
	ProtocolVersion string    `json:"protocol_version,omitempty"`
	TotalDiscovered int       `json:"total_discovered"`
	Error           bool      `json:"error"`
}

// DiscoveryResult is returned by Discover. It is well-formed even on failure.
type DiscoveryResult struct {
	Agents   []Agent           `json:"agents"`
	Count    int               `json:"count"`
	Error    string            `json:"error,omitempty"`
	Metadata DiscoveryMetadata `json:"discovery_metadata"`
}

func containsFold(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
