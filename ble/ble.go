// Package ble wraps tinygo.org/x/bluetooth with the narrow set of
// operations the print driver needs: adapter discovery, scanning,
// connecting by address, and resolving the write/notify
// characteristic pair.
package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/kilobyte-labs/funnyprint/wire"
)

// Characteristic UUIDs within the Bluetooth base UUID template.
const (
	WriteCharUUID  = "0000ffe1-0000-1000-8000-00805f9b34fb"
	NotifyCharUUID = "0000ffe2-0000-1000-8000-00805f9b34fb"
	ProbeCharUUID  = "0000ffe6-0000-1000-8000-00805f9b34fb"
)

// Peripheral describes a scan hit for operator inspection.
type Peripheral struct {
	Address string
	Name    string
}

// Adapter returns the platform's default Bluetooth adapter, enabled
// for use. Fails if no adapter is available.
func Adapter() (*bluetooth.Adapter, error) {
	a := bluetooth.DefaultAdapter
	if a == nil {
		return nil, fmt.Errorf("ble: no bluetooth adapter available")
	}
	if err := a.Enable(); err != nil {
		return nil, fmt.Errorf("ble: failed to enable adapter: %w", err)
	}
	return a, nil
}

// Scan runs a discovery scan for the given duration and returns every
// candidate peripheral observed. A candidate peripheral is one whose
// advertised services include ProbeCharUUID, or any device that has a
// local name; devices with neither are not returned.
func Scan(ctx context.Context, adapter *bluetooth.Adapter, d time.Duration) ([]Peripheral, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	seen := make(map[string]Peripheral)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		if err := adapter.StopScan(); err != nil {
			slog.DebugContext(ctx, "ble: stop scan after deadline", "error", err)
		}
	}()

	probeUUID, uuidErr := bluetooth.ParseUUID(ProbeCharUUID)

	err := adapter.Scan(func(a *bluetooth.Adapter, sr bluetooth.ScanResult) {
		addr := sr.Address.String()
		name := sr.LocalName()
		hasProbe := uuidErr == nil && sr.HasServiceUUID(probeUUID)
		if name == "" && !hasProbe {
			return
		}
		seen[addr] = Peripheral{Address: addr, Name: name}
	})
	<-done
	if err != nil {
		return nil, fmt.Errorf("ble: scan failed: %w", err)
	}

	out := make([]Peripheral, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out, nil
}

// FindByAddress scans within the given deadline for a peripheral
// whose address normalizes to the same value as address (see
// wire.NormalizeMAC), stopping the scan as soon as it is found.
func FindByAddress(ctx context.Context, adapter *bluetooth.Adapter, address string, deadline time.Duration) (bluetooth.ScanResult, error) {
	want := wire.NormalizeMAC(address)
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		found    bluetooth.ScanResult
		hasFound bool
	)
	scanErr := adapter.Scan(func(a *bluetooth.Adapter, sr bluetooth.ScanResult) {
		if ctx.Err() != nil {
			_ = a.StopScan()
			return
		}
		if wire.NormalizeMAC(sr.Address.String()) == want {
			found = sr
			hasFound = true
			_ = a.StopScan()
		}
	})
	if scanErr != nil && !hasFound {
		return bluetooth.ScanResult{}, fmt.Errorf("ble: scan failed: %w", scanErr)
	}
	if !hasFound {
		return bluetooth.ScanResult{}, fmt.Errorf("ble: peripheral %s not found within %s", address, deadline)
	}
	return found, nil
}

// Chars is the resolved write/notify characteristic pair.
type Chars struct {
	Write  bluetooth.DeviceCharacteristic
	Notify bluetooth.DeviceCharacteristic
}

// Connect connects to the scan result and resolves its write/notify
// characteristics.
func Connect(adapter *bluetooth.Adapter, sr bluetooth.ScanResult) (bluetooth.Device, Chars, error) {
	dev, err := adapter.Connect(sr.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return bluetooth.Device{}, Chars{}, fmt.Errorf("ble: connect failed: %w", err)
	}
	chars, err := ResolveChars(dev)
	if err != nil {
		_ = dev.Disconnect()
		return bluetooth.Device{}, Chars{}, err
	}
	return dev, chars, nil
}

// ResolveChars discovers services and characteristics on an already
// connected device and locates the write and notify characteristics
// by UUID.
func ResolveChars(dev bluetooth.Device) (Chars, error) {
	services, err := dev.DiscoverServices(nil)
	if err != nil {
		return Chars{}, fmt.Errorf("ble: discover services failed: %w", err)
	}
	if len(services) == 0 {
		return Chars{}, fmt.Errorf("ble: no services found on device %s", dev.Address)
	}

	var (
		out        Chars
		haveWrite  bool
		haveNotify bool
	)
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return Chars{}, fmt.Errorf("ble: discover characteristics failed: %w", err)
		}
		for _, c := range chars {
			switch strings.ToLower(c.UUID().String()) {
			case WriteCharUUID:
				out.Write = c
				haveWrite = true
			case NotifyCharUUID:
				out.Notify = c
				haveNotify = true
			}
		}
		if haveWrite && haveNotify {
			break
		}
	}
	if !haveWrite || !haveNotify {
		return Chars{}, fmt.Errorf("ble: required characteristics not found (write=%s notify=%s)", WriteCharUUID, NotifyCharUUID)
	}
	return out, nil
}

// Write sends data, preferring write-without-response when the
// characteristic advertises that property and falling back to a
// confirmed write when it does not. When the property set can't be
// queried on this platform, write-without-response is used.
func Write(c bluetooth.DeviceCharacteristic, data []byte) error {
	withoutResponse := true
	if flags, err := c.Flags(); err == nil {
		withoutResponse = flags&bluetooth.CharacteristicWriteWithoutResponsePermission != 0
	}
	if withoutResponse {
		if _, err := c.WriteWithoutResponse(data); err != nil {
			return fmt.Errorf("ble: write failed: %w", err)
		}
		return nil
	}
	if _, err := c.Write(data); err != nil {
		return fmt.Errorf("ble: write failed: %w", err)
	}
	return nil
}

// Subscribe enables notifications on the notify characteristic.
func Subscribe(c bluetooth.DeviceCharacteristic, cb func(value []byte)) error {
	if err := c.EnableNotifications(cb); err != nil {
		return fmt.Errorf("ble: enable notifications failed: %w", err)
	}
	return nil
}
