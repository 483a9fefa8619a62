// Copyright 2024--2026 The usbnvme-identify Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// you may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package usbdev wraps gousb behind small interfaces: enumerate an attached
// bridge by vendor/product id, detach the OS driver, resolve the bulk
// endpoint pair and reset the device. The interfaces keep the session logic
// testable without hardware.
package usbdev

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/google/gousb/usbid"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoDevice    = errors.New("no supported device attached")
	ErrPermission  = errors.New("insufficient privileges for raw usb access")
	ErrNoEndpoints = errors.New("bulk endpoint pair not found")
)

// DeviceID identifies a USB device model by vendor and product id.
type DeviceID struct {
	VID  uint16
	PID  uint16
	Name string
}

func (id DeviceID) String() string {
	if id.Name == "" {
		return fmt.Sprintf("%04x:%04x", id.VID, id.PID)
	}
	return fmt.Sprintf("%s (%04x:%04x)", id.Name, id.VID, id.PID)
}

// Matches reports whether the descriptor vid/pid pair is this device model.
func (id DeviceID) Matches(vid, pid uint16) bool {
	return id.VID == vid && id.PID == pid
}

// InEndpoint is a bulk-IN endpoint supporting context-bounded reads.
type InEndpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// OutEndpoint is a bulk-OUT endpoint supporting context-bounded writes.
type OutEndpoint interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// Device is an opened USB device owned exclusively by this process.
type Device interface {
	// ID returns the allow-list entry the device matched.
	ID() DeviceID
	// SetAutoDetach asks the OS to release any native driver bound to the
	// device's interfaces before they are claimed.
	SetAutoDetach(enable bool) error
	// Endpoints claims the default interface and resolves exactly one
	// bulk-IN and one bulk-OUT endpoint.
	Endpoints() (InEndpoint, OutEndpoint, error)
	// Reset performs a USB port reset. The device handle is unusable
	// afterwards and must be reopened.
	Reset() error
	Close() error
}

// Opener enumerates and opens devices from an allow-list.
type Opener interface {
	Open(allowlist []DeviceID) (Device, error)
	Close() error
}

// Attached describes an enumerated USB device for listing purposes.
type Attached struct {
	ID          DeviceID
	Bus         int
	Address     int
	Description string
	Supported   bool
}

type gousbOpener struct {
	ctx *gousb.Context
	log *logrus.Entry
}

// NewOpener creates a libusb-backed Opener. Callers must Close it.
func NewOpener() Opener {
	return &gousbOpener{
		ctx: gousb.NewContext(),
		log: logrus.WithFields(logrus.Fields{}),
	}
}

func (o *gousbOpener) Open(allowlist []DeviceID) (Device, error) {
	for _, id := range allowlist {
		dev, err := o.ctx.OpenDeviceWithVIDPID(gousb.ID(id.VID), gousb.ID(id.PID))
		if err != nil {
			if errors.Is(err, gousb.ErrorAccess) {
				return nil, fmt.Errorf("%w: open %s: %v", ErrPermission, id, err)
			}
			o.log.WithError(err).Warnf("failed to open %s", id)
			continue
		}
		if dev == nil {
			continue
		}
		return &gousbDevice{dev: dev, id: id, log: o.log}, nil
	}
	return nil, ErrNoDevice
}

func (o *gousbOpener) Close() error {
	return o.ctx.Close()
}

type gousbDevice struct {
	dev  *gousb.Device
	id   DeviceID
	log  *logrus.Entry
	done func()
}

func (d *gousbDevice) ID() DeviceID {
	return d.id
}

func (d *gousbDevice) SetAutoDetach(enable bool) error {
	return d.dev.SetAutoDetach(enable)
}

func (d *gousbDevice) Endpoints() (InEndpoint, OutEndpoint, error) {
	intf, done, err := d.dev.DefaultInterface()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: claim default interface of %s: %v", ErrNoEndpoints, d.id, err)
	}

	var inNum, outNum int
	inNum, outNum = -1, -1
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			if inNum < 0 {
				inNum = ep.Number
			}
		case gousb.EndpointDirectionOut:
			if outNum < 0 {
				outNum = ep.Number
			}
		}
	}
	if inNum < 0 || outNum < 0 {
		done()
		return nil, nil, fmt.Errorf("%w: %s exposes no bulk in/out pair", ErrNoEndpoints, d.id)
	}

	in, err := intf.InEndpoint(inNum)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("%w: open bulk-in %d: %v", ErrNoEndpoints, inNum, err)
	}
	out, err := intf.OutEndpoint(outNum)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("%w: open bulk-out %d: %v", ErrNoEndpoints, outNum, err)
	}
	d.done = done
	return in, out, nil
}

func (d *gousbDevice) Reset() error {
	if d.done != nil {
		d.done()
		d.done = nil
	}
	return d.dev.Reset()
}

func (d *gousbDevice) Close() error {
	if d.done != nil {
		d.done()
		d.done = nil
	}
	return d.dev.Close()
}

// ListAttached enumerates USB devices visible to the context. Only
// allow-list matches are reported unless all is set.
func ListAttached(allowlist []DeviceID, all bool) ([]Attached, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var attached []Attached
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		entry := Attached{
			ID:          DeviceID{VID: uint16(desc.Vendor), PID: uint16(desc.Product)},
			Bus:         desc.Bus,
			Address:     desc.Address,
			Description: usbid.Describe(desc),
		}
		for _, id := range allowlist {
			if id.Matches(uint16(desc.Vendor), uint16(desc.Product)) {
				entry.ID.Name = id.Name
				entry.Supported = true
			}
		}
		if entry.Supported || all {
			attached = append(attached, entry)
		}
		// collect descriptors only, open nothing
		return false
	})
	for _, dev := range devs {
		dev.Close()
	}
	if err != nil {
		return nil, err
	}
	return attached, nil
}
