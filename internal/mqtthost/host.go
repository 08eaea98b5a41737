// Package mqtthost publishes accessories over MQTT.
//
// For an accessory with ID id under prefix p the host uses:
//
//	p/id/$meta          retained JSON description
//	p/id/<property>     retained JSON value
//	p/id/<property>/set JSON value written by clients
//	p/id/<property>/error last write failure
package mqtthost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-melcloud/internal/host"
)

const writeTimeout = 30 * time.Second

// Host implements host.Host on top of a Broker.
type Host struct {
	broker Broker
	prefix string
	log    zerolog.Logger

	mu          sync.Mutex
	accessories map[string]*host.Accessory
}

func New(broker Broker, prefix string, log zerolog.Logger) *Host {
	return &Host{
		broker:      broker,
		prefix:      strings.TrimRight(prefix, "/"),
		log:         log,
		accessories: make(map[string]*host.Accessory),
	}
}

func (h *Host) topic(parts ...string) string {
	return h.prefix + "/" + strings.Join(parts, "/")
}

func (h *Host) Register(_ context.Context, acc *host.Accessory) error {
	meta, err := json.Marshal(acc.Describe())
	if err != nil {
		return fmt.Errorf("encode %s: %w", acc.ID, err)
	}

	h.mu.Lock()
	_, known := h.accessories[acc.ID]
	h.accessories[acc.ID] = acc
	h.mu.Unlock()

	if err := h.broker.Publish(h.topic(acc.ID, "$meta"), true, meta); err != nil {
		return fmt.Errorf("publish %s meta: %w", acc.ID, err)
	}
	if known {
		return nil
	}
	for _, p := range acc.Properties {
		if !p.Writable() {
			continue
		}
		id, name := acc.ID, p.Name()
		err := h.broker.Subscribe(h.topic(id, name, "set"), func(_ string, payload []byte) {
			h.handleSet(id, name, payload)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s.%s: %w", id, name, err)
		}
	}
	return nil
}

func (h *Host) Update(_ context.Context, accessoryID string, values map[string]any) error {
	h.mu.Lock()
	_, ok := h.accessories[accessoryID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", host.ErrUnknownAccessory, accessoryID)
	}

	for name, v := range values {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", accessoryID, name, err)
		}
		if err := h.broker.Publish(h.topic(accessoryID, name), true, payload); err != nil {
			return fmt.Errorf("publish %s.%s: %w", accessoryID, name, err)
		}
	}
	return nil
}

// Unregister drops subscriptions and clears retained topics.
func (h *Host) Unregister(_ context.Context, accessoryID string) error {
	h.mu.Lock()
	acc, ok := h.accessories[accessoryID]
	delete(h.accessories, accessoryID)
	h.mu.Unlock()
	if !ok {
		return nil
	}

	for _, p := range acc.Properties {
		if p.Writable() {
			if err := h.broker.Unsubscribe(h.topic(acc.ID, p.Name(), "set")); err != nil {
				h.log.Warn().Err(err).Str("accessory", acc.ID).Msg("unsubscribe")
			}
		}
		_ = h.broker.Publish(h.topic(acc.ID, p.Name()), true, nil)
	}
	return h.broker.Publish(h.topic(acc.ID, "$meta"), true, nil)
}

// republish restores the retained value of a property after a rejected
// write so clients revert.
func (h *Host) republish(acc *host.Accessory, property string) {
	p, ok := acc.Property(property)
	if !ok {
		return
	}
	v, err := p.Value()
	if err != nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = h.broker.Publish(h.topic(acc.ID, property), true, payload)
}

func (h *Host) handleSet(accessoryID, property string, payload []byte) {
	h.mu.Lock()
	acc, ok := h.accessories[accessoryID]
	h.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := acc.Write(ctx, property, payload); err != nil {
		h.log.Warn().Err(err).Str("accessory", accessoryID).Str("property", property).Msg("mqtt write failed")
		_ = h.broker.Publish(h.topic(accessoryID, property, "error"), false, []byte(err.Error()))
		h.republish(acc, property)
		return
	}
	h.log.Debug().Str("accessory", accessoryID).Str("property", property).RawJSON("value", payload).Msg("mqtt write")
}
