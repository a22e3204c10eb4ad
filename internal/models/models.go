// Package models holds the typed surfaces exchanged through the hub:
// events, agents, tenants, and channel messages. Payloads stay opaque
// JSON maps by contract; only these envelopes are typed.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// HubEvent is the unit of work crossing the router boundary. It is
// constructed at ingest and immutable afterwards; the replay stream
// stores it verbatim.
type HubEvent struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenantId"`
	Type          string                 `json:"type"`
	Source        string                 `json:"source"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	SessionID     string                 `json:"sessionId,omitempty"`
	TargetAgent   string                 `json:"targetAgent,omitempty"`
	AgentName     string                 `json:"agentName,omitempty"`
	Channel       string                 `json:"channel,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ResolvedAgent returns the agent the event addresses: an explicit
// target wins over the advisory agent name.
func (e *HubEvent) ResolvedAgent() string {
	if e.TargetAgent != "" {
		return e.TargetAgent
	}
	return e.AgentName
}

// EventFromPayload validates an arbitrary JSON payload into a HubEvent.
func EventFromPayload(payload map[string]interface{}) (*HubEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	var event HubEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// Validate checks the required event fields.
func (e *HubEvent) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("event id is required")
	case e.TenantID == "":
		return fmt.Errorf("event tenantId is required")
	case e.Type == "":
		return fmt.Errorf("event type is required")
	case e.Source == "":
		return fmt.Errorf("event source is required")
	case e.Timestamp.IsZero():
		return fmt.Errorf("event timestamp is required")
	}
	return nil
}

// AgentCapability is a capability flag exposed by a registered agent.
type AgentCapability struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Agent describes an external HTTP service registered with the hub.
// Names are unique within a tenant scope; the "system" scope acts as
// the global fallback.
type Agent struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Endpoint          string                 `json:"endpoint"`
	DisplayName       string                 `json:"displayName,omitempty"`
	Version           string                 `json:"version,omitempty"`
	Owner             string                 `json:"owner,omitempty"`
	Capabilities      []AgentCapability      `json:"capabilities,omitempty"`
	SupportedChannels []string               `json:"supportedChannels,omitempty"`
	Tenants           []string               `json:"tenants,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Tenant is the isolation boundary; its id prefixes every stream,
// cache key, and broker subject. Owned by the external registry.
type Tenant struct {
	ID           string                 `json:"id"`
	Role         string                 `json:"role,omitempty"`
	Organization string                 `json:"organization,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Environment  string                 `json:"environment,omitempty"`
	EnvVars      map[string]string      `json:"envVars,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    *time.Time             `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time             `json:"updatedAt,omitempty"`
}

// Channel message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ChannelMessage is a message emitted by a channel adapter. The router
// transforms it 1:1 into a HubEvent of type "channel.message".
type ChannelMessage struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenantId"`
	SessionID string                 `json:"sessionId,omitempty"`
	AgentName string                 `json:"agentName,omitempty"`
	Channel   string                 `json:"channel"`
	Direction string                 `json:"direction"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Event converts the channel message into its hub event form.
func (m *ChannelMessage) Event() *HubEvent {
	return &HubEvent{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Type:      "channel.message",
		Source:    m.Channel,
		Timestamp: m.Timestamp,
		Payload:   m.Payload,
		SessionID: m.SessionID,
		AgentName: m.AgentName,
		Channel:   m.Channel,
		Metadata:  m.Metadata,
	}
}
