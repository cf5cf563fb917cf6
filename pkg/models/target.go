package models

import (
	"fmt"
	"net"
	"strings"
)

// Group categorizes a monitored host.
type Group string

const (
	GroupTerminal       Group = "terminal"
	GroupVirtualization Group = "virtualization"
)

// Protocol is the remote access protocol a terminal device serves.
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
)

// Well-known service ports probed by the poller.
const (
	PortSSH        = 22
	PortTelnet     = 23
	PortManagement = 8006
)

// Target is a host declared in the target files. Targets are immutable once
// loaded; a reload replaces the whole set.
type Target struct {
	Address  string   `json:"ip" yaml:"ip"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Group    Group    `json:"group" yaml:"-"`
	Protocol Protocol `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// ServicePort returns the TCP port whose liveness defines the target's
// online state.
func (t Target) ServicePort() int {
	if t.Group == GroupVirtualization {
		return PortManagement
	}
	if t.Protocol == ProtocolTelnet {
		return PortTelnet
	}
	return PortSSH
}

// Normalize trims the address, applies the default protocol for terminal
// devices, and validates the result.
func (t Target) Normalize() (Target, error) {
	t.Address = strings.TrimSpace(t.Address)
	t.Name = strings.TrimSpace(t.Name)
	if t.Address == "" {
		return t, fmt.Errorf("target address is required")
	}
	if net.ParseIP(t.Address) == nil {
		return t, fmt.Errorf("target address %q is not an IP literal", t.Address)
	}

	switch t.Group {
	case GroupTerminal:
		t.Protocol = Protocol(strings.ToLower(string(t.Protocol)))
		switch t.Protocol {
		case "":
			t.Protocol = ProtocolSSH
		case ProtocolSSH, ProtocolTelnet:
		default:
			return t, fmt.Errorf("target %s: protocol must be ssh or telnet, got %q", t.Address, t.Protocol)
		}
	case GroupVirtualization:
		t.Protocol = ""
	default:
		return t, fmt.Errorf("target %s: unknown group %q", t.Address, t.Group)
	}
	return t, nil
}
