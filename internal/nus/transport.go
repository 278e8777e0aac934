package nus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/groutine"
	"github.com/srg/btserial/pkg/link"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Options configures a Transport.
type Options struct {
	ScanTimeout time.Duration
	ChunkSize   int
	ChunkDelay  time.Duration
	InputBuffer int
}

// Transport adapts go-ble to the link package: scanning stands in for the
// paired-device list, Dial plus NUS discovery opens sockets, and the client
// disconnect channel drives link-loss callbacks.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	devOnce sync.Once
	dev     ble.Device
	devErr  error

	mu   sync.Mutex
	seen *orderedmap.OrderedMap[string, link.Device]

	observers *hashmap.Map[uint64, func(link.Device)]
	nextObs   atomic.Uint64
}

var (
	_ link.Adapter       = (*Transport)(nil)
	_ link.SocketFactory = (*Transport)(nil)
	_ link.LinkObserver  = (*Transport)(nil)
)

// NewTransport creates a Transport. The BLE device is opened on first use.
func NewTransport(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	} else if opts.ChunkDelay == 0 {
		opts.ChunkDelay = DefaultChunkDelay
	}
	if opts.InputBuffer <= 0 {
		opts.InputBuffer = DefaultInputBuffer
	}

	return &Transport{
		opts:      opts,
		logger:    logger,
		seen:      orderedmap.New[string, link.Device](),
		observers: hashmap.New[uint64, func(link.Device)](),
	}
}

func (t *Transport) device() (ble.Device, error) {
	t.devOnce.Do(func() {
		t.dev, t.devErr = DeviceFactory()
		if t.devErr != nil {
			t.devErr = fmt.Errorf("failed to create BLE device: %w", t.devErr)
		}
	})
	return t.dev, t.devErr
}

// RadioEnabled reports whether the BLE device could be opened.
func (t *Transport) RadioEnabled() bool {
	if _, err := t.device(); err != nil {
		t.logger.WithError(err).Debug("BLE radio unavailable")
		return false
	}
	return true
}

// PairedDevices scans for ScanTimeout and returns every named, connectable
// advertiser seen so far, in first-seen order. BLE has no bonded list to
// consult, so discovery stands in for pairing.
func (t *Transport) PairedDevices() ([]link.Device, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.ScanTimeout)
	defer cancel()

	t.logger.WithField("timeout", t.opts.ScanTimeout).Debug("Scanning for NUS peripherals")
	err = dev.Scan(ctx, false, func(adv ble.Advertisement) {
		t.record(adv)
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return t.Seen(), nil
}

// record adds an advertiser to the seen list. Peripherals that advertise a
// service list without NUS are skipped.
func (t *Transport) record(adv ble.Advertisement) {
	name := adv.LocalName()
	if name == "" || !adv.Connectable() {
		return
	}
	if services := adv.Services(); len(services) > 0 && !advertisesNUS(services) {
		return
	}

	address := strings.ToUpper(adv.Addr().String())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen.Set(address, link.Device{ID: address, Name: name, Address: address})
}

func advertisesNUS(services []ble.UUID) bool {
	for _, s := range services {
		if s.Equal(ServiceUUID) {
			return true
		}
	}
	return false
}

// Seen returns the advertisers recorded so far in first-seen order.
func (t *Transport) Seen() []link.Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices := make([]link.Device, 0, t.seen.Len())
	for pair := t.seen.Oldest(); pair != nil; pair = pair.Next() {
		devices = append(devices, pair.Value)
	}
	return devices
}

// CancelDiscovery is a no-op: scans are bounded by ScanTimeout.
func (t *Transport) CancelDiscovery() error { return nil }

// OpenSocket dials dev, discovers the NUS characteristics and subscribes to TX.
// Peripherals without NUS are reported as link.ErrUnsupported.
func (t *Transport) OpenSocket(ctx context.Context, dev link.Device, _ uuid.UUID) (link.Socket, error) {
	bleDev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", dev.Address).Info("Connecting to BLE device...")
	client, err := bleDev.Dial(ctx, ble.NewAddr(dev.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", dev.Address, err)
	}

	sock, err := t.attach(client)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithError(cancelErr).Warn("Failed to cancel connection after setup failure")
		}
		return nil, err
	}

	t.watch(client, sock, dev)
	t.logger.WithField("address", dev.Address).Info("BLE serial connection established successfully")
	return sock, nil
}

func (t *Transport) attach(client ble.Client) (*Socket, error) {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	txChar, rxChar, err := findCharacteristics(profile)
	if err != nil {
		return nil, err
	}

	sock := newSocket(client, rxChar, t.opts.InputBuffer, t.opts.ChunkSize, t.opts.ChunkDelay, t.logger)
	if err := client.Subscribe(txChar, false, sock.in.push); err != nil {
		return nil, fmt.Errorf("failed to subscribe to TX characteristic: %w", err)
	}
	return sock, nil
}

func findCharacteristics(profile *ble.Profile) (tx, rx *ble.Characteristic, err error) {
	var service *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(ServiceUUID) {
			service = s
			break
		}
	}
	if service == nil {
		return nil, nil, fmt.Errorf("serial service %s not found: %w", ServiceUUID, link.ErrUnsupported)
	}

	for _, c := range service.Characteristics {
		switch {
		case c.UUID.Equal(TxCharUUID):
			tx = c
		case c.UUID.Equal(RxCharUUID):
			rx = c
		}
	}
	if tx == nil {
		return nil, nil, fmt.Errorf("TX characteristic %s not found", TxCharUUID)
	}
	if rx == nil {
		return nil, nil, fmt.Errorf("RX characteristic %s not found", RxCharUUID)
	}
	return tx, rx, nil
}

// watch reports link loss when the client drops without a local Close.
func (t *Transport) watch(client ble.Client, sock *Socket, dev link.Device) {
	disconnecting, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not support Disconnected() channel, link loss will not be reported")
		return
	}

	groutine.Go(context.Background(), "nus-connection-monitor", func(context.Context) {
		select {
		case <-disconnecting.Disconnected():
			t.logger.WithField("device", dev.String()).Warn("BLE peripheral disconnected")
			sock.in.Close()
			t.notifyLost(dev)
		case <-sock.Closed():
		}
	})
}

// Subscribe registers a link-loss callback.
func (t *Transport) Subscribe(onLost func(link.Device)) (func(), error) {
	id := t.nextObs.Add(1)
	t.observers.Set(id, onLost)

	var once sync.Once
	return func() {
		once.Do(func() { t.observers.Del(id) })
	}, nil
}

func (t *Transport) notifyLost(dev link.Device) {
	var ids []uint64
	t.observers.Range(func(id uint64, _ func(link.Device)) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if onLost, ok := t.observers.Get(id); ok {
			onLost(dev)
		}
	}
}
