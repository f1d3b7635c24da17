// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

// NopDeviceDatabase implements DeviceDatabase with no storage at all. The
// per-device database and tag index are explicitly opaque to the core
// (spec.md §1 Non-goal, "no device-database format"); this stand-in lets
// the manager run the S6 worker-failure fan-out without a real backing
// store wired in.
type NopDeviceDatabase struct{}

func (NopDeviceDatabase) Remove(DeviceView) error { return nil }
