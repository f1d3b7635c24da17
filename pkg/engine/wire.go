// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import "encoding/gob"

// WireDevice is a concrete, serializable DeviceView used for the
// parent↔worker unicast hand-off (spec.md §9's fork()-substitute: the
// worker is a separate exec'd program, so a device handle that crossed
// process boundaries inside the kernel's netlink payload in the original
// now crosses a unix socket as an encoded WireDevice).
type WireDevice struct {
	SeqNum_     uint64
	DevPath_    string
	DevPathOld_ string
	DevNum_     DevNum
	IsBlock_    bool
	IfIndex_    int
	Action_     string
	Subsystem_  string
	DevType_    string
	SysName_    string
	SysPath_    string
	DevName_    string
}

func (w *WireDevice) SeqNum() uint64      { return w.SeqNum_ }
func (w *WireDevice) DevPath() string     { return w.DevPath_ }
func (w *WireDevice) DevPathOld() string  { return w.DevPathOld_ }
func (w *WireDevice) DevNum() DevNum      { return w.DevNum_ }
func (w *WireDevice) IsBlock() bool       { return w.IsBlock_ }
func (w *WireDevice) IfIndex() int        { return w.IfIndex_ }
func (w *WireDevice) Action() string      { return w.Action_ }
func (w *WireDevice) Subsystem() string   { return w.Subsystem_ }
func (w *WireDevice) DevType() string     { return w.DevType_ }
func (w *WireDevice) SysName() string     { return w.SysName_ }
func (w *WireDevice) SysPath() string     { return w.SysPath_ }
func (w *WireDevice) DevName() string     { return w.DevName_ }

// NewWireDevice snapshots any DeviceView into a WireDevice ready to encode.
func NewWireDevice(d DeviceView) *WireDevice {
	return &WireDevice{
		SeqNum_:     d.SeqNum(),
		DevPath_:    d.DevPath(),
		DevPathOld_: d.DevPathOld(),
		DevNum_:     d.DevNum(),
		IsBlock_:    d.IsBlock(),
		IfIndex_:    d.IfIndex(),
		Action_:     d.Action(),
		Subsystem_:  d.Subsystem(),
		DevType_:    d.DevType(),
		SysName_:    d.SysName(),
		SysPath_:    d.SysPath(),
		DevName_:    d.DevName(),
	}
}

func init() {
	gob.Register(&WireDevice{})
}

// ackFrameSize is the fixed size, in bytes, of a worker's acknowledgement
// datagram (spec.md §4.5: "send one fixed-size ack message on the
// worker-write socket"; §7: the parent rejects any ack whose size does not
// match). It carries no device payload: SCM_CREDENTIALS on the datagram
// already authenticates the sending pid, and the processed device itself
// crosses back to the parent over the separate publish socket
// (UDEVD_PUBLISH_SOCKET), not the ack socket.
const ackFrameSize = 1

const ackStatusProcessed byte = 1

// AckFrame is the fixed-size frame a worker writes to the shared ack socket
// once it has finished processing its current device.
func AckFrame() [ackFrameSize]byte {
	return [ackFrameSize]byte{ackStatusProcessed}
}
