package device

import "context"

// Inventory supplies the ordered device list for a run. Implementations are
// read-only from the audit's point of view.
type Inventory interface {
	// Devices returns every device in inventory order
	Devices(ctx context.Context) ([]Device, error)
}

// StaticInventory is an in-memory Inventory.
type StaticInventory []Device

func (s StaticInventory) Devices(ctx context.Context) ([]Device, error) {
	out := make([]Device, len(s))
	copy(out, s)
	return out, nil
}
