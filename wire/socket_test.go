package wire

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/peripheral-blue/peripheral"
	"github.com/user/peripheral-blue/util"
	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/debug"
	"github.com/user/peripheral-blue/wire/frame"
	"github.com/user/peripheral-blue/wire/gatt"
)

func startSocket(t *testing.T, opts ...SocketOption) (*peripheral.Peripheral, *SocketRadio, *watcher) {
	t.Helper()
	t.Setenv(util.DataDirEnv, t.TempDir())

	radio := NewSocketRadio("Heart", opts...)
	w := newWatcher()
	p := peripheral.New(radio, newDemoTable(t), peripheral.WithDelegate(w), peripheral.WithName("Heart"))
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Start(context.Background()))
	w.waitFor(t, peripheral.StateAdvertising)
	return p, radio, w
}

func dial(t *testing.T, id string) *Central {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Connect(ctx, "Heart", id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextUpdate(t *testing.T, c *Central) Update {
	t.Helper()
	select {
	case u, ok := <-c.Updates():
		require.True(t, ok, "updates closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestSocketScanFindsAdvertisement(t *testing.T) {
	p, _, _ := startSocket(t)

	payload, err := Scan("Heart")
	require.NoError(t, err)
	assert.Equal(t, "Heart", payload.LocalName)
	assert.Equal(t, []gatt.UUID{demoUUID}, payload.ServiceUUIDs)

	require.NoError(t, p.Stop(context.Background()))
	_, err = Scan("Heart")
	assert.Error(t, err)
}

func TestSocketReadWrite(t *testing.T) {
	ctx := context.Background()
	p, _, w := startSocket(t)
	c := dial(t, "phone-1")

	require.NoError(t, c.Write(ctx, demoUUID, 0, []byte("alice:42")))
	assert.Equal(t, []byte("alice:42"), recv(t, w.writes))

	got, err := c.Read(ctx, demoUUID, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("42"), got)

	err = c.Write(ctx, levelUUID, 0, []byte{1})
	assert.True(t, att.IsATTError(err, att.ErrWriteNotPermitted), "got %v", err)

	_, err = c.Read(ctx, gatt.UUID16(0x2A00), 0)
	assert.True(t, att.IsATTError(err, att.ErrAttributeNotFound), "got %v", err)

	value, err := p.Value(ctx, demoUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice:42"), value)
}

func TestSocketNotificationsReachSubscribers(t *testing.T) {
	ctx := context.Background()
	p, radio, w := startSocket(t)
	c1 := dial(t, "phone-1")
	c2 := dial(t, "phone-2")

	require.NoError(t, c1.Subscribe(demoUUID))
	recv(t, w.subscribed)
	require.NoError(t, c2.WriteCCCD(ctx, demoUUID, true, false))
	recv(t, w.subscribed)
	assert.Equal(t, 2, radio.Connections())

	result, err := p.Notify(ctx, demoUUID, []byte("9D9"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Queued)

	for _, c := range []*Central{c1, c2} {
		u := nextUpdate(t, c)
		assert.Equal(t, demoUUID, u.Characteristic)
		assert.Equal(t, []byte("9D9"), u.Value)
		assert.False(t, u.Indication)
	}
}

func TestSocketUnreadUpdatesDoNotStallRequests(t *testing.T) {
	ctx := context.Background()
	p, _, w := startSocket(t)
	c := dial(t, "phone-1")

	require.NoError(t, c.Subscribe(demoUUID))
	recv(t, w.subscribed)

	for sent := 0; sent < UpdateBuffer+8; {
		result, err := p.Notify(ctx, demoUUID, []byte{byte(sent)})
		require.NoError(t, err)
		if result.Delivered == 1 {
			sent++
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Read(readCtx, levelUUID, 0)
	require.NoError(t, err)
	assert.Len(t, c.Updates(), UpdateBuffer)
}

func TestSocketCCCDValidation(t *testing.T) {
	ctx := context.Background()
	_, _, _ = startSocket(t)
	c := dial(t, "phone-1")

	// notify only on an indicate-only characteristic
	err := c.WriteCCCD(ctx, alertUUID, true, false)
	assert.True(t, att.IsATTError(err, att.ErrCCCDImproperlyConfigured), "got %v", err)

	err = c.WriteCCCD(ctx, gatt.UUID16(0x2A00), true, false)
	assert.True(t, att.IsATTError(err, att.ErrAttributeNotFound), "got %v", err)

	require.NoError(t, c.WriteCCCD(ctx, alertUUID, false, true))
}

func TestSocketIndicationNeedsConfirm(t *testing.T) {
	ctx := context.Background()
	p, _, w := startSocket(t)
	c := dial(t, "phone-1")

	require.NoError(t, c.WriteCCCD(ctx, alertUUID, false, true))
	recv(t, w.subscribed)

	require.NoError(t, p.WriteCharacteristicValue(ctx, alertUUID, []byte{1}))
	require.NoError(t, p.WriteCharacteristicValue(ctx, alertUUID, []byte{2}))

	u := nextUpdate(t, c)
	assert.True(t, u.Indication)
	assert.Equal(t, []byte{1}, u.Value)

	select {
	case u := <-c.Updates():
		t.Fatalf("second indication sent before confirm: %v", u)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Confirm(alertUUID))
	recv(t, w.confirmed)
	assert.Equal(t, []byte{2}, nextUpdate(t, c).Value)
}

func TestSocketDisconnectDropsSubscription(t *testing.T) {
	ctx := context.Background()
	p, radio, w := startSocket(t)
	c := dial(t, "phone-1")

	require.NoError(t, c.Subscribe(demoUUID))
	recv(t, w.subscribed)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		subs, err := p.Subscribers(ctx, demoUUID)
		return err == nil && len(subs) == 0 && radio.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocketRejectsDuplicateCentral(t *testing.T) {
	_, radio, _ := startSocket(t)
	path, err := radio.SocketPath()
	require.NoError(t, err)

	dial(t, "phone-1")
	require.Eventually(t, func() bool { return radio.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	dup, err := Dial(context.Background(), path, "phone-1")
	require.NoError(t, err)
	defer dup.Close()
	select {
	case <-dup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("duplicate central was not disconnected")
	}
	assert.Equal(t, 1, radio.Connections())
}

func TestSocketCloseRemovesFiles(t *testing.T) {
	p, radio, _ := startSocket(t)
	path, err := radio.SocketPath()
	require.NoError(t, err)
	c := dial(t, "phone-1")

	require.NoError(t, p.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(AdvertisementPath(path))
	assert.True(t, os.IsNotExist(err))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("central still connected after close")
	}
	_, err = c.Read(context.Background(), demoUUID, 0)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestSocketHandshakeMustBeHello(t *testing.T) {
	_, radio, _ := startSocket(t)
	path, err := radio.SocketPath()
	require.NoError(t, err)

	raw, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer raw.Close()
	require.NoError(t, frame.Write(raw, &frame.Frame{Kind: frame.KindRead, RequestID: 1, Characteristic: demoUUID}))

	raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = frame.Read(bufio.NewReader(raw))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, radio.Connections())
}

func TestSocketFrameCapture(t *testing.T) {
	t.Setenv(util.DataDirEnv, t.TempDir())
	frames := debug.NewFrameLogger("Heart", true)

	radio := NewSocketRadio("Heart", WithFrameLogger(frames))
	w := newWatcher()
	p := peripheral.New(radio, newDemoTable(t), peripheral.WithDelegate(w), peripheral.WithName("Heart"))
	defer p.Close()
	require.NoError(t, p.Start(context.Background()))
	w.waitFor(t, peripheral.StateAdvertising)

	c := dial(t, "phone-1")
	require.NoError(t, c.Write(context.Background(), demoUUID, 0, []byte("hi")))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(frames.Path())
		return err == nil && strings.Contains(string(data), `"kind":"write"`) && strings.Contains(string(data), `"kind":"response"`)
	}, 2*time.Second, 10*time.Millisecond)
}
