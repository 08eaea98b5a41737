package host

import (
	"context"
	"fmt"
)

// Category tells a host how to present an accessory.
type Category string

const (
	CategoryHeaterCooler Category = "heater_cooler"
	CategorySwitch       Category = "switch"
)

// Info is the accessory information block.
type Info struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

// Accessory is one device-like object exposed to a host.
type Accessory struct {
	ID         string
	Name       string
	Category   Category
	Info       Info
	Properties []Property
}

func (a *Accessory) Property(name string) (Property, bool) {
	for _, p := range a.Properties {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Values reads every property.
func (a *Accessory) Values() (map[string]any, error) {
	out := make(map[string]any, len(a.Properties))
	for _, p := range a.Properties {
		v, err := p.Value()
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", a.ID, p.Name(), err)
		}
		out[p.Name()] = v
	}
	return out, nil
}

// Write routes a raw JSON value to the named property.
func (a *Accessory) Write(ctx context.Context, property string, raw []byte) error {
	p, ok := a.Property(property)
	if !ok {
		return fmt.Errorf("%s.%s: %w", a.ID, property, ErrUnknownProperty)
	}
	return p.SetJSON(ctx, raw)
}

// PropertyInfo describes a property for hosts that publish metadata.
type PropertyInfo struct {
	Name     string  `json:"name"`
	Format   Format  `json:"format"`
	Writable bool    `json:"writable"`
	Bounds   *Bounds `json:"bounds,omitempty"`
}

// Description is the serialisable form of an accessory without values.
type Description struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Category   Category       `json:"category"`
	Info       Info           `json:"info"`
	Properties []PropertyInfo `json:"properties"`
}

func (a *Accessory) Describe() Description {
	d := Description{ID: a.ID, Name: a.Name, Category: a.Category, Info: a.Info}
	for _, p := range a.Properties {
		d.Properties = append(d.Properties, PropertyInfo{
			Name:     p.Name(),
			Format:   p.Format(),
			Writable: p.Writable(),
			Bounds:   p.Bounds(),
		})
	}
	return d
}

// Host is the home-automation runtime accessories are published to.
// Register also restores an accessory the host already knows by ID.
type Host interface {
	Register(ctx context.Context, acc *Accessory) error
	Update(ctx context.Context, accessoryID string, values map[string]any) error
	Unregister(ctx context.Context, accessoryID string) error
}
