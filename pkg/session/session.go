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

// Package session drives one identify round trip against an attached bridge:
// open the device, detach the OS driver, resolve the bulk endpoint pair,
// reset, send the wrapped passthrough command, read the data and status
// phases and decode the controller identity.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asmutils/usbnvme-identify/pkg/asmedia"
	"github.com/asmutils/usbnvme-identify/pkg/bot"
	"github.com/asmutils/usbnvme-identify/pkg/nvme"
	"github.com/asmutils/usbnvme-identify/pkg/usbdev"
)

// Kind classifies how a session failed.
type Kind int

const (
	PermissionDenied Kind = iota + 1
	NoDeviceFound
	NoEndpoints
	TransportError
	InvalidIdentity
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission denied"
	case NoDeviceFound:
		return "no device found"
	case NoEndpoints:
		return "no endpoints"
	case TransportError:
		return "transport error"
	case InvalidIdentity:
		return "invalid identity"
	}
	return "unknown"
}

// ExitCode maps the failure kind to the process exit code contract.
func (k Kind) ExitCode() int {
	return int(k) + 1
}

// Error is a classified session failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s. err: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RawPrefixLength is how much of the raw identify payload is retained in the
// report for the diagnostic hex dump.
const RawPrefixLength = 80

// DefaultTransferTimeout bounds each bulk transfer.
const DefaultTransferTimeout = 5 * time.Second

// resetSettle gives the bridge time to come back after a port reset before
// re-enumeration.
const resetSettle = time.Second

// Report is the successful outcome of a session.
type Report struct {
	Bridge     usbdev.DeviceID          `json:"bridge"`
	Identity   *nvme.ControllerIdentity `json:"identity"`
	VendorName string                   `json:"vendor"`
	Raw        []byte                   `json:"-"`
}

// Session runs identify round trips. It holds immutable configuration only;
// all device state is per-Run.
type Session struct {
	opener    usbdev.Opener
	supported []usbdev.DeviceID
	vendors   nvme.VendorTable
	timeout   time.Duration
	log       *logrus.Entry
	now       func() time.Time
	sleep     func(time.Duration)
}

// New creates a session controller. The supported list and vendor table are
// injected, fixed configuration data.
func New(opener usbdev.Opener, supported []usbdev.DeviceID, vendors nvme.VendorTable, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	return &Session{
		opener:    opener,
		supported: supported,
		vendors:   vendors,
		timeout:   timeout,
		log:       logrus.WithFields(logrus.Fields{}),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// newTag derives a fresh command tag from a millisecond time source so stale
// in-flight frames from a prior session cannot collide with it.
func (s *Session) newTag() uint32 {
	return uint32(s.now().UnixMilli())
}

// Run performs one full identify session. Any transport failure aborts
// immediately; there are no retries by design, a wedged bridge is handled by
// the single reset step instead.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	dev, err := s.opener.Open(s.supported)
	if err != nil {
		if errors.Is(err, usbdev.ErrPermission) {
			return nil, &Error{Kind: PermissionDenied, Msg: "raw usb access denied, run as root", Err: err}
		}
		return nil, &Error{Kind: NoDeviceFound, Msg: fmt.Sprintf("no supported bridge attached. supported: %v", s.supported), Err: err}
	}
	defer func() {
		if dev != nil {
			dev.Close()
		}
	}()
	bridge := dev.ID()
	s.log.Infof("found %s", bridge)

	if err := dev.SetAutoDetach(true); err != nil {
		// recoverable: the native driver may already be detached
		s.log.WithError(err).Warnf("driver detach request failed. continuing")
	}
	in, out, err := dev.Endpoints()
	if err != nil {
		return nil, &Error{Kind: NoEndpoints, Msg: fmt.Sprintf("could not resolve bulk endpoints on %s", bridge), Err: err}
	}

	// A bridge left mid-command by an aborted session returns stale data.
	// Reset once and re-resolve the handle; failures here are logged and
	// the session proceeds optimistically with whatever handles it has.
	if err := dev.Reset(); err != nil {
		s.log.WithError(err).Warnf("device reset failed. continuing with current handle")
	} else {
		s.sleep(resetSettle)
		dev.Close()
		dev = nil
		fresh, fin, fout, err := s.reopen()
		if err != nil {
			s.log.WithError(err).Warnf("re-enumeration after reset failed. continuing")
		} else {
			dev, in, out = fresh, fin, fout
		}
	}

	data, err := s.roundTrip(ctx, in, out)
	if err != nil {
		return nil, err
	}

	identity, err := nvme.DecodeIdentifyController(data)
	if err != nil {
		return nil, &Error{Kind: InvalidIdentity, Msg: "identify response did not decode", Err: err}
	}
	if identity.Blocked() {
		return nil, &Error{
			Kind: InvalidIdentity,
			Msg:  fmt.Sprintf("bridge firmware is blocking identify (vid %#04x)", identity.PCIVendorID),
		}
	}
	s.log.Infof("decoded identity: %s", identity)

	return &Report{
		Bridge:     bridge,
		Identity:   identity,
		VendorName: s.vendors.Name(identity.PCIVendorID),
		Raw:        data[:RawPrefixLength],
	}, nil
}

// reopen re-enumerates the bridge after a reset invalidated the prior
// handle. Invoked exactly once per session, never as a retry loop.
func (s *Session) reopen() (usbdev.Device, usbdev.InEndpoint, usbdev.OutEndpoint, error) {
	dev, err := s.opener.Open(s.supported)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := dev.SetAutoDetach(true); err != nil {
		s.log.WithError(err).Warnf("driver detach request failed after reset. continuing")
	}
	in, out, err := dev.Endpoints()
	if err != nil {
		dev.Close()
		return nil, nil, nil, err
	}
	return dev, in, out, nil
}

// roundTrip writes the command block wrapper and reads back the data and
// status phases. The status wrapper must be drained even though its payload
// is not acted on, otherwise the endpoint state machine desynchronizes.
func (s *Session) roundTrip(ctx context.Context, in usbdev.InEndpoint, out usbdev.OutEndpoint) ([]byte, error) {
	tag := s.newTag()
	cbw, err := bot.EncodeCBW(tag, asmedia.IdentifyDataLength, bot.DeviceToHost, asmedia.IdentifyControllerCDB())
	if err != nil {
		return nil, &Error{Kind: TransportError, Msg: "failed to build command block wrapper", Err: err}
	}
	s.log.Debugf("sending %s", cbw)

	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := out.WriteContext(wctx, cbw); err != nil {
		return nil, &Error{Kind: TransportError, Msg: "bulk-out write failed", Err: err}
	}

	data := make([]byte, asmedia.IdentifyDataLength)
	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := in.ReadContext(dctx, data)
	if err != nil {
		return nil, &Error{Kind: TransportError, Msg: "bulk-in data read failed", Err: err}
	}
	if n != asmedia.IdentifyDataLength {
		return nil, &Error{Kind: TransportError, Msg: fmt.Sprintf("short identify payload: %d of %d bytes", n, asmedia.IdentifyDataLength)}
	}

	status := make([]byte, bot.CswLength)
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err = in.ReadContext(sctx, status)
	if err != nil {
		return nil, &Error{Kind: TransportError, Msg: "bulk-in status read failed", Err: err}
	}
	csw, err := bot.DecodeCSW(status[:n])
	if err != nil {
		return nil, &Error{Kind: TransportError, Msg: "command status wrapper rejected", Err: err}
	}
	// Tag and status content are deliberately not validated against the
	// request, matching the bridge's observed behavior.
	if csw.Tag != tag {
		s.log.Debugf("csw tag mismatch: sent %#08x, got %s", tag, csw)
	}
	return data, nil
}
