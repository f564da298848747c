package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/model"
)

// EventType indicates what kind of change happened in the catalog.
type EventType int

const (
	EventSatelliteAdded EventType = iota
	EventISMUpdated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type      EventType
	Satellite model.SatelliteID
	ISM       *model.IntegritySupportMessage
}

// SatelliteRecord is one catalogued ranging source.
type SatelliteRecord struct {
	ID            model.SatelliteID
	Constellation model.ConstellationID
	Orbit         core.OrbitModel
}

// ErrStaleISM is returned when an ISM older than the current one arrives.
var ErrStaleISM = errors.New("integrity support message older than current")

// Catalog is an in-memory, thread-safe store for satellites and the most
// recent integrity support message.
type Catalog struct {
	mu sync.RWMutex

	satellites map[model.SatelliteID]*SatelliteRecord
	ism        *model.IntegritySupportMessage

	subs map[int]func(Event)
	next int
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		satellites: make(map[model.SatelliteID]*SatelliteRecord),
		subs:       make(map[int]func(Event)),
	}
}

// AddSatellite adds a new satellite. It returns an error if the ID already exists.
func (c *Catalog) AddSatellite(rec *SatelliteRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("satellite record requires an ID")
	}
	if rec.Orbit == nil {
		return fmt.Errorf("satellite %q has no orbit model", rec.ID)
	}
	c.mu.Lock()
	if _, exists := c.satellites[rec.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("satellite with ID %q already exists", rec.ID)
	}
	c.satellites[rec.ID] = rec
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventSatelliteAdded, Satellite: rec.ID})
	return nil
}

// GetSatellite returns the satellite with the given ID, or nil if not found.
func (c *Catalog) GetSatellite(id model.SatelliteID) *SatelliteRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.satellites[id]
}

// ListSatellites returns a snapshot slice of all satellites, sorted by ID.
func (c *Catalog) ListSatellites() []*SatelliteRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]*SatelliteRecord, 0, len(c.satellites))
	for _, s := range c.satellites {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// UpdateISM replaces the current integrity support message. Messages are
// immutable once stored; callers must not modify ism afterwards.
func (c *Catalog) UpdateISM(ism *model.IntegritySupportMessage) error {
	if ism == nil {
		return fmt.Errorf("nil integrity support message")
	}
	c.mu.Lock()
	if c.ism != nil && ism.Epoch.Before(c.ism.Epoch) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s before %s", ErrStaleISM, ism.Epoch, c.ism.Epoch)
	}
	c.ism = ism
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventISMUpdated, ISM: ism})
	return nil
}

// ISM returns the current integrity support message, or nil.
func (c *Catalog) ISM() *model.IntegritySupportMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ism
}

// Subscribe registers a callback for catalog events. It returns an unsubscribe function.
func (c *Catalog) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Catalog) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

// notify runs outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
