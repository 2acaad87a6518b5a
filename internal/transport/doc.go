// Package transport defines the contract shared by the radio back-ends.
//
// A Transport hides whether the physical radio is a register-level SPI
// chipset or a line-oriented AT-command module; callers never branch on
// which one is active. The transport owns the exclusive hardware handle:
// every Send, Receive, Retune and AmbientRSSI call holds the driver's
// mutual-exclusion boundary for its full duration, so concurrent
// foreground and background users cannot corrupt each other's exchange.
package transport
