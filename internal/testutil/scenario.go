// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// Scenario scripts both hosts of an OAI noS1 run, keyed on the command lines
// the sample pipeline uses. Nodes are "enb1" and "rue1".
type Scenario struct {
	// SetupFails and BuildFails name nodes whose stage output lacks the
	// success marker.
	SetupFails map[string]bool
	BuildFails map[string]bool
	// LinkUpOnAttempt is the verification call that first sees the address.
	// Zero means never.
	LinkUpOnAttempt int
	// PingReceived is the number of echo replies the probe reports.
	PingReceived int

	mu       sync.Mutex
	verifies int
}

// HappyScenario succeeds at every step.
func HappyScenario() *Scenario {
	return &Scenario{LinkUpOnAttempt: 1, PingReceived: 10}
}

// Responder returns the script for a FakeDialer.
func (s *Scenario) Responder() Responder {
	return func(node, line string) Reply {
		switch {
		case strings.Contains(line, "setup.sh"):
			out := "Reading package lists...\n"
			if !s.SetupFails[node] {
				out += "Host setup complete!\n"
			}
			return Reply{Output: out, Files: map[string]string{teeTarget(line): out}}

		case strings.Contains(line, "./build_oai"):
			out := "Log file for compilation is being written to: /local/openairinterface5g/cmake_targets/log\n"
			if s.BuildFails[node] {
				out += "build have failed\n"
			} else {
				out += "Bypassing the Tests ...\n"
			}
			return Reply{Output: out, Files: map[string]string{teeTarget(line): out}}

		case strings.Contains(line, "lte-softmodem"), strings.Contains(line, "lte-uesoftmodem"):
			if strings.Contains(line, "pkill") {
				return Reply{}
			}
			out := "[PHY]   I lte-softmodem started\n"
			return Reply{Output: out, Hang: true, Files: map[string]string{teeTarget(line): out}}

		case strings.HasPrefix(line, "ifconfig"):
			s.mu.Lock()
			s.verifies++
			n := s.verifies
			s.mu.Unlock()
			addr := "10.0.1.9"
			if s.LinkUpOnAttempt > 0 && n >= s.LinkUpOnAttempt {
				addr = "10.0.1.2"
			}
			return Reply{Output: "oaitun_ue1: flags=4305<UP,POINTOPOINT,RUNNING,NOARP,MULTICAST>  mtu 1500\n        inet " + addr + "  netmask 255.255.255.0  destination " + addr + "\n"}

		case strings.Contains(line, "ping -c"):
			loss := 100 - s.PingReceived*10
			out := fmt.Sprintf("PING 10.0.1.1 (10.0.1.1) 56(84) bytes of data.\n\n--- 10.0.1.1 ping statistics ---\n10 packets transmitted, %d received, %d%% packet loss, time 9013ms\n", s.PingReceived, loss)
			return Reply{Output: out, Files: map[string]string{teeTarget(line): out}}
		}
		return Reply{}
	}
}

// Verifications returns how many association checks ran.
func (s *Scenario) Verifications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifies
}

// teeTarget extracts the file a "... | tee <path>" line writes to.
func teeTarget(line string) string {
	idx := strings.LastIndex(line, "tee ")
	if idx < 0 {
		return ""
	}
	fields := strings.Fields(line[idx+len("tee "):])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
