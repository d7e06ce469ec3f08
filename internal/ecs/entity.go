// Package ecs holds the minimal entity/component/world substrate used by the
// network client. The world hosts a fixed list of systems ticked in order
// and a small set of entities, each carrying a fixed struct of components.
package ecs

import (
	"github.com/google/uuid"
)

// Entity is an opaque identifier plus the components attached to it.
// A nil component pointer means the entity does not have that component.
type Entity struct {
	ID uuid.UUID

	Connection *NetworkConnection
	Buffer     *PacketBuffer
	Session    *Session
	Login      *LoginStateComponent
	Device     *DeviceInfo
}

// NewEntity creates an entity with a fresh identifier and no components.
func NewEntity() *Entity {
	return &Entity{ID: uuid.New()}
}

// HasNetworking reports whether the entity carries both a connection and a packet buffer.
func (e *Entity) HasNetworking() bool {
	return e.Connection != nil && e.Buffer != nil
}
