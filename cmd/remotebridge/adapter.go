package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
	dbusPropsIface    = "org.freedesktop.DBus.Properties"

	systemdBusName     = "org.freedesktop.systemd1"
	systemdObjectPath  = "/org/freedesktop/systemd1"
	systemdRestartUnit = "org.freedesktop.systemd1.Manager.RestartUnit"
)

// Adapter is the radio adapter management primitive used by the manager.
type Adapter interface {
	// PowerCycle powers the adapter off and back on.
	PowerCycle(ctx context.Context) error
	// RestartDaemon restarts the system bluetooth daemon.
	RestartDaemon(ctx context.Context) error
}

// bluezAdapter manages the adapter through BlueZ and the bluetooth daemon
// through systemd, both over the system D-Bus.
type bluezAdapter struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	unit   string
	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger
}

// newBluezAdapter connects to the system bus for the named adapter (hci0).
func newBluezAdapter(adapter, unit string, logger *slog.Logger) (*bluezAdapter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &bluezAdapter{
		conn:   conn,
		path:   dbus.ObjectPath("/org/bluez/" + adapter),
		unit:   unit,
		sleep:  sleepCtx,
		logger: logger,
	}, nil
}

func (b *bluezAdapter) Close() error {
	return b.conn.Close()
}

func (b *bluezAdapter) setPowered(ctx context.Context, on bool) error {
	obj := b.conn.Object(bluezBusName, b.path)
	call := obj.CallWithContext(ctx, dbusPropsIface+".Set", 0, bluezAdapterIface, "Powered", dbus.MakeVariant(on))
	if call.Err != nil {
		return fmt.Errorf("set %s Powered=%v: %w", b.path, on, call.Err)
	}
	return nil
}

func (b *bluezAdapter) PowerCycle(ctx context.Context) error {
	if err := b.setPowered(ctx, false); err != nil {
		return err
	}
	if err := b.sleep(ctx, adapterToggleDelay); err != nil {
		return err
	}
	if err := b.setPowered(ctx, true); err != nil {
		return err
	}
	b.logger.Debug("adapter power cycled", "adapter", b.path)
	return b.sleep(ctx, adapterToggleDelay)
}

func (b *bluezAdapter) RestartDaemon(ctx context.Context) error {
	obj := b.conn.Object(systemdBusName, systemdObjectPath)
	var job dbus.ObjectPath
	if err := obj.CallWithContext(ctx, systemdRestartUnit, 0, b.unit, "replace").Store(&job); err != nil {
		return fmt.Errorf("restart %s: %w", b.unit, err)
	}
	b.logger.Info("bluetooth daemon restart queued", "unit", b.unit, "job", job)
	return nil
}

// sleepCtx sleeps for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
