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

package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmutils/usbnvme-identify/pkg/asmedia"
	"github.com/asmutils/usbnvme-identify/pkg/bot"
	"github.com/asmutils/usbnvme-identify/pkg/nvme"
	"github.com/asmutils/usbnvme-identify/pkg/usbdev"
)

type fakeIn struct {
	payloads [][]byte
	err      error
	reads    int
}

func (f *fakeIn) ReadContext(_ context.Context, buf []byte) (int, error) {
	f.reads++
	if f.err != nil {
		return 0, f.err
	}
	if f.reads > len(f.payloads) {
		return 0, errors.New("unexpected read")
	}
	return copy(buf, f.payloads[f.reads-1]), nil
}

type fakeOut struct {
	writes [][]byte
	err    error
}

func (f *fakeOut) WriteContext(_ context.Context, buf []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.writes = append(f.writes, append([]byte(nil), buf...))
	return len(buf), nil
}

type fakeDevice struct {
	id        usbdev.DeviceID
	in        *fakeIn
	out       *fakeOut
	detachErr error
	resetErr  error
	epErr     error
	resets    int
	closes    int
}

func (d *fakeDevice) ID() usbdev.DeviceID { return d.id }

func (d *fakeDevice) SetAutoDetach(bool) error { return d.detachErr }

func (d *fakeDevice) Endpoints() (usbdev.InEndpoint, usbdev.OutEndpoint, error) {
	if d.epErr != nil {
		return nil, nil, d.epErr
	}
	return d.in, d.out, nil
}

func (d *fakeDevice) Reset() error {
	d.resets++
	return d.resetErr
}

func (d *fakeDevice) Close() error {
	d.closes++
	return nil
}

type fakeOpener struct {
	devices []*fakeDevice
	err     error
	opens   int
}

func (o *fakeOpener) Open([]usbdev.DeviceID) (usbdev.Device, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	if o.opens > len(o.devices) {
		return nil, usbdev.ErrNoDevice
	}
	return o.devices[o.opens-1], nil
}

func (o *fakeOpener) Close() error { return nil }

func makeCSW(tag uint32) []byte {
	buf := make([]byte, bot.CswLength)
	binary.LittleEndian.PutUint32(buf[0:4], bot.CswSignature)
	binary.LittleEndian.PutUint32(buf[4:8], tag)
	return buf
}

func makeIdentifyPayload(vid uint16, model string) []byte {
	buf := make([]byte, asmedia.IdentifyDataLength)
	binary.LittleEndian.PutUint16(buf[0:2], vid)
	binary.LittleEndian.PutUint16(buf[2:4], vid)
	field := buf[24:64]
	for i := range field {
		field[i] = ' '
	}
	copy(field, model)
	return buf
}

func newTestDevice(in *fakeIn, out *fakeOut) *fakeDevice {
	return &fakeDevice{
		id:       usbdev.DeviceID{VID: 0x174c, PID: 0x2362, Name: "ASMedia ASM2362"},
		in:       in,
		out:      out,
		resetErr: errors.New("reset not supported by fake"),
	}
}

func newTestSession(opener usbdev.Opener) *Session {
	s := New(opener, asmedia.SupportedBridges(), nvme.DefaultVendorTable(), time.Second)
	s.sleep = func(time.Duration) {}
	s.now = func() time.Time { return time.UnixMilli(0x5eed1234) }
	return s
}

func TestRunNoDeviceFound(t *testing.T) {
	opener := &fakeOpener{}
	report, err := newTestSession(opener).Run(context.Background())
	require.Nil(t, report)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, NoDeviceFound, serr.Kind)
	assert.Equal(t, 1, opener.opens)
}

func TestRunPermissionDenied(t *testing.T) {
	opener := &fakeOpener{err: fmt.Errorf("%w: libusb says no", usbdev.ErrPermission)}
	_, err := newTestSession(opener).Run(context.Background())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, PermissionDenied, serr.Kind)
}

func TestRunNoEndpoints(t *testing.T) {
	dev := newTestDevice(nil, nil)
	dev.epErr = usbdev.ErrNoEndpoints
	_, err := newTestSession(&fakeOpener{devices: []*fakeDevice{dev}}).Run(context.Background())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, NoEndpoints, serr.Kind)
	assert.Equal(t, 1, dev.closes)
}

func TestRunWriteFailureAbortsBeforeRead(t *testing.T) {
	in := &fakeIn{}
	out := &fakeOut{err: errors.New("pipe stalled")}
	dev := newTestDevice(in, out)
	_, err := newTestSession(&fakeOpener{devices: []*fakeDevice{dev}}).Run(context.Background())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, TransportError, serr.Kind)
	assert.Equal(t, 0, in.reads, "no read may follow a failed write")
}

func TestRunDataReadFailure(t *testing.T) {
	in := &fakeIn{err: errors.New("transfer timed out")}
	out := &fakeOut{}
	dev := newTestDevice(in, out)
	_, err := newTestSession(&fakeOpener{devices: []*fakeDevice{dev}}).Run(context.Background())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, TransportError, serr.Kind)
	assert.Len(t, out.writes, 1)
}

func TestRunShortDataPayload(t *testing.T) {
	in := &fakeIn{payloads: [][]byte{make([]byte, 512)}}
	dev := newTestDevice(in, &fakeOut{})
	_, err := newTestSession(&fakeOpener{devices: []*fakeDevice{dev}}).Run(context.Background())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, TransportError, serr.Kind)
}

func TestRunBadStatusWrapper(t *testing.T) {
	in := &fakeIn{payloads: [][]byte{
		makeIdentifyPayload(0x144d, "Samsung SSD 990 PRO 1TB"),
		make([]byte, bot.CswLength), // zero signature
	}}
	dev := newTestDevice(in, &fakeOut{})
	_, err := newTestSession(&fakeOpener{devices: []*fakeDevice{dev}}).Run(context.Background())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, TransportError, serr.Kind)
}

func TestRunBlockedIdentity(t *testing.T) {
	in := &fakeIn{payloads: [][]byte{
		make([]byte, asmedia.IdentifyDataLength),
		makeCSW(0),
	}}
	dev := newTestDevice(in, &fakeOut{})
	_, err := newTestSession(&fakeOpener{devices: []*fakeDevice{dev}}).Run(context.Background())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, InvalidIdentity, serr.Kind)
}

func TestRunSuccess(t *testing.T) {
	in := &fakeIn{payloads: [][]byte{
		makeIdentifyPayload(0x144d, "Samsung SSD 990 PRO 1TB"),
		makeCSW(0x5eed1234),
	}}
	out := &fakeOut{}
	dev := newTestDevice(in, out)
	opener := &fakeOpener{devices: []*fakeDevice{dev}}

	report, err := newTestSession(opener).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Samsung SSD 990 PRO 1TB", report.Identity.ModelNumber)
	assert.Equal(t, "Samsung", report.VendorName)
	assert.Equal(t, uint16(0x144d), report.Identity.PCIVendorID)
	assert.Equal(t, "ASMedia ASM2362", report.Bridge.Name)
	assert.Len(t, report.Raw, RawPrefixLength)

	// on-wire command frame
	require.Len(t, out.writes, 1)
	cbw := out.writes[0]
	require.Len(t, cbw, bot.CbwLength)
	assert.Equal(t, bot.CbwSignature, binary.LittleEndian.Uint32(cbw[0:4]))
	assert.Equal(t, uint32(asmedia.IdentifyDataLength), binary.LittleEndian.Uint32(cbw[8:12]))
	assert.Equal(t, []byte{0xe6, 0x06, 0x00, 0x01}, cbw[15:19])

	// reset failed on the fake, so the session kept the original handle
	assert.Equal(t, 1, dev.resets)
	assert.Equal(t, 2, in.reads, "data phase and status phase")
}

func TestRunReopensAfterReset(t *testing.T) {
	stale := newTestDevice(&fakeIn{}, &fakeOut{})
	stale.resetErr = nil

	in := &fakeIn{payloads: [][]byte{
		makeIdentifyPayload(0x1987, "Sabrent Rocket 4.0"),
		makeCSW(0x5eed1234),
	}}
	fresh := newTestDevice(in, &fakeOut{})
	opener := &fakeOpener{devices: []*fakeDevice{stale, fresh}}

	report, err := newTestSession(opener).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Phison", report.VendorName)
	assert.Equal(t, 2, opener.opens)
	assert.Equal(t, 1, stale.resets)
	assert.GreaterOrEqual(t, stale.closes, 1)
	assert.Equal(t, 1, fresh.closes)
	assert.Equal(t, 0, stale.in.reads, "stale handle must not be used after reset")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 2, PermissionDenied.ExitCode())
	assert.Equal(t, 3, NoDeviceFound.ExitCode())
	assert.Equal(t, 4, NoEndpoints.ExitCode())
	assert.Equal(t, 5, TransportError.ExitCode())
	assert.Equal(t, 6, InvalidIdentity.ExitCode())
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: TransportError, Msg: "bulk-out write failed", Err: errors.New("pipe stalled")}
	assert.Equal(t, "bulk-out write failed. err: pipe stalled", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "pipe stalled")
}
