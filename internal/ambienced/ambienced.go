// Package ambienced talks to the system theming daemon over the D-Bus session bus.
package ambienced

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/italolelis/ambience_downloader/internal/telemetry"
)

const (
	DefaultService   = "com.jolla.ambienced"
	DefaultPath      = "/com/jolla/ambienced"
	DefaultInterface = "com.jolla.ambienced"

	methodCreate = "createAmbience"
	methodSet    = "setAmbience"
)

// Service creates and activates ambiences from image file URLs.
type Service interface {
	CreateAmbience(ctx context.Context, url string) error
	SetAmbience(ctx context.Context, url string) error
}

// Client sends method calls to ambienced without waiting for replies.
// Errors only cover failing to queue the message on the bus.
type Client struct {
	conn  *dbus.Conn
	obj   dbus.BusObject
	iface string
}

// Dial connects to the session bus and binds the daemon object at service and path.
func Dial(ctx context.Context, service, path string) (*Client, error) {
	if service == "" {
		service = DefaultService
	}

	if path == "" {
		path = DefaultPath
	}

	if !dbus.ObjectPath(path).IsValid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}

	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	return &Client{
		conn:  conn,
		obj:   conn.Object(service, dbus.ObjectPath(path)),
		iface: DefaultInterface,
	}, nil
}

func (c *Client) CreateAmbience(ctx context.Context, url string) error {
	return c.send(ctx, methodCreate, url)
}

func (c *Client) SetAmbience(ctx context.Context, url string) error {
	return c.send(ctx, methodSet, url)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(ctx context.Context, method, url string) error {
	call := c.obj.GoWithContext(ctx, c.iface+"."+method, dbus.FlagNoReplyExpected, nil, url)
	if call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}

	return nil
}

// Disabled is used when no theming daemon is available. Calls succeed and do nothing.
type Disabled struct{}

func (Disabled) CreateAmbience(context.Context, string) error { return nil }
func (Disabled) SetAmbience(context.Context, string) error    { return nil }

// InstrumentedService wraps Service with telemetry.
type InstrumentedService struct {
	svc       Service
	telemetry *telemetry.Telemetry
}

func NewInstrumentedService(svc Service, tel *telemetry.Telemetry) *InstrumentedService {
	return &InstrumentedService{svc: svc, telemetry: tel}
}

func (s *InstrumentedService) CreateAmbience(ctx context.Context, url string) error {
	return s.telemetry.InstrumentAmbienceCall(ctx, methodCreate, func(ctx context.Context) error {
		return s.svc.CreateAmbience(ctx, url)
	})
}

func (s *InstrumentedService) SetAmbience(ctx context.Context, url string) error {
	return s.telemetry.InstrumentAmbienceCall(ctx, methodSet, func(ctx context.Context) error {
		return s.svc.SetAmbience(ctx, url)
	})
}
