package ocsf

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventType represents the type of OCSF event
type EventType string

const (
	EventTypeNetwork        EventType = "network"
	EventTypeProcess        EventType = "process"
	EventTypeFile           EventType = "file"
	EventTypeAuthentication EventType = "authentication"
	EventTypeFinding        EventType = "finding"
	EventTypeUnknown        EventType = "unknown"
)

// Event is the subset of an OCSF event that carries lookup candidates.
// Unknown members are ignored on decode.
type Event struct {
	ActivityID  int    `json:"activity_id"`
	CategoryUID int    `json:"category_uid"`
	ClassUID    int    `json:"class_uid"`
	TypeUID     int    `json:"type_uid"`
	Message     string `json:"message,omitempty"`
	Severity    string `json:"severity,omitempty"`
	SeverityID  int    `json:"severity_id,omitempty"`

	// Epoch milliseconds per OCSF; some producers send RFC3339 strings.
	Time json.RawMessage `json:"time,omitempty"`

	Metadata Metadata `json:"metadata"`

	Device      *Device   `json:"device,omitempty"`
	SrcEndpoint *Endpoint `json:"src_endpoint,omitempty"`
	DstEndpoint *Endpoint `json:"dst_endpoint,omitempty"`

	// Vulnerability findings (class 2002) list CVEs here.
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`

	Observables []Observable `json:"observables,omitempty"`
}

// Metadata contains event metadata
type Metadata struct {
	UID     string  `json:"uid,omitempty"`
	Product Product `json:"product,omitempty"`
	Version string  `json:"version,omitempty"`
}

// Product information
type Product struct {
	Name   string `json:"name,omitempty"`
	Vendor string `json:"vendor_name,omitempty"`
}

// Device represents a host/device
type Device struct {
	Hostname string `json:"hostname,omitempty"`
	IP       string `json:"ip,omitempty"`
	Name     string `json:"name,omitempty"`
	UID      string `json:"uid,omitempty"`
}

// Endpoint represents a network endpoint
type Endpoint struct {
	IP       string `json:"ip,omitempty"`
	Port     int    `json:"port,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

type Vulnerability struct {
	CVE *CVE `json:"cve,omitempty"`
}

type CVE struct {
	UID string `json:"uid"`
}

// Observable represents an observable artifact or IOC
type Observable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Parse decodes a single OCSF event.
func Parse(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ID returns metadata.uid when present.
func (e *Event) ID() string { return e.Metadata.UID }

// GetEventType determines the event type based on OCSF class UID
func (e *Event) GetEventType() EventType {
	switch {
	case e.ClassUID == 1001: // File System Activity
		return EventTypeFile
	case e.ClassUID/1000 == 1:
		return EventTypeProcess
	case e.ClassUID/1000 == 2:
		return EventTypeFinding
	case e.ClassUID/1000 == 3:
		return EventTypeAuthentication
	case e.ClassUID/1000 == 4:
		return EventTypeNetwork
	}
	return EventTypeUnknown
}

// Timestamp returns the event time in Unix seconds, or the current time when
// the event carries none.
func (e *Event) Timestamp() int64 {
	raw := strings.TrimSpace(string(e.Time))
	if raw == "" || raw == "null" {
		return time.Now().Unix()
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return n / 1000
		}
		return n
	}
	var s string
	if err := json.Unmarshal(e.Time, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.Unix()
		}
	}
	return time.Now().Unix()
}

// ExtractObservables lists candidate artifacts in document order. Values are
// not typed or deduplicated here.
func (e *Event) ExtractObservables() []Observable {
	var out []Observable
	add := func(name, typ, value string) {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, Observable{Name: name, Type: typ, Value: value})
		}
	}

	if e.SrcEndpoint != nil {
		add("src_endpoint.ip", "ip", e.SrcEndpoint.IP)
		add("src_endpoint.hostname", "hostname", e.SrcEndpoint.Hostname)
		add("src_endpoint.domain", "hostname", e.SrcEndpoint.Domain)
	}
	if e.DstEndpoint != nil {
		add("dst_endpoint.ip", "ip", e.DstEndpoint.IP)
		add("dst_endpoint.hostname", "hostname", e.DstEndpoint.Hostname)
		add("dst_endpoint.domain", "hostname", e.DstEndpoint.Domain)
	}
	if e.Device != nil {
		add("device.ip", "ip", e.Device.IP)
		add("device.hostname", "hostname", e.Device.Hostname)
	}
	for _, v := range e.Vulnerabilities {
		if v.CVE != nil {
			add("vulnerabilities.cve.uid", "cve", v.CVE.UID)
		}
	}
	for _, o := range e.Observables {
		add(o.Name, o.Type, o.Value)
	}
	return out
}
