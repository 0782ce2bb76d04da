package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gate-admission/internal/status"
	"gate-admission/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// EventDirectory supplies the gate set of an event. Events without gates of
// their own get the directory's default gates.
type EventDirectory interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

// StaticEventDirectory serves events registered in process, used by tests
// and by deployments that configure gates through the environment only.
type StaticEventDirectory struct {
	mu           sync.RWMutex
	events       map[string]models.Event
	defaultGates []string
}

func NewStaticEventDirectory(defaultGates []string) *StaticEventDirectory {
	return &StaticEventDirectory{
		events:       make(map[string]models.Event),
		defaultGates: slices.Clone(defaultGates),
	}
}

func (d *StaticEventDirectory) AddEvent(event models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	event.Gates = slices.Clone(event.Gates)
	d.events[event.ID] = event
}

func (d *StaticEventDirectory) GetEvent(_ context.Context, eventID string) (*models.Event, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	event, ok := d.events[eventID]
	if !ok {
		return nil, status.ErrEventNotFound
	}
	if len(event.Gates) == 0 {
		event.Gates = slices.Clone(d.defaultGates)
	} else {
		event.Gates = slices.Clone(event.Gates)
	}
	return &event, nil
}

// PocketBaseEventDirectory reads events from the "events" collection. The
// gate list lives in the JSON "gates" field.
type PocketBaseEventDirectory struct {
	app          core.App
	defaultGates []string
}

func NewPocketBaseEventDirectory(app core.App, defaultGates []string) *PocketBaseEventDirectory {
	return &PocketBaseEventDirectory{app: app, defaultGates: slices.Clone(defaultGates)}
}

func (d *PocketBaseEventDirectory) GetEvent(_ context.Context, eventID string) (*models.Event, error) {
	record, err := d.app.FindFirstRecordByFilter("events", "id = {:id}", dbx.Params{"id": eventID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrEventNotFound
	} else if err != nil {
		return nil, fmt.Errorf("find event %s: %w", eventID, err)
	}

	var gates []string
	if raw := record.GetString("gates"); raw != "" && raw != "null" {
		if err := record.UnmarshalJSONField("gates", &gates); err != nil {
			return nil, fmt.Errorf("decode gates of event %s: %w", eventID, err)
		}
	}
	gates = slices.DeleteFunc(gates, func(g string) bool { return g == "" })
	if len(gates) == 0 {
		gates = slices.Clone(d.defaultGates)
	}

	return &models.Event{
		ID:     record.Id,
		Name:   record.GetString("name"),
		Status: record.GetString("status"),
		Gates:  gates,
	}, nil
}
