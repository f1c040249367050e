package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/los-tecnicos/gridledger/pkg/storage"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyRegistered = errors.New("resident already registered")
	ErrNotRegistered     = errors.New("resident not registered")
)

// ResidentType determines which marketplace operations a resident may use:
// producers mint tokens for generated energy, consumers purchase it.
type ResidentType string

const (
	Producer ResidentType = "producer"
	Consumer ResidentType = "consumer"
)

func (t ResidentType) Valid() bool { return t == Producer || t == Consumer }

// Resident is a community member record. DevicePubKey is the hex-encoded
// ed25519 public key of the resident's smart meter; when set, mint requests
// must carry an attestation signed by it.
type Resident struct {
	Address      common.Address `json:"address"`
	Type         ResidentType   `json:"type"`
	Name         string         `json:"name"`
	DevicePubKey string         `json:"device_pub_key,omitempty"`
}

// Registry is the resident/community record store. The core only reads it
// (resident type and device key); registration is community-admin CRUD.
type Registry struct {
	kv    storage.KV
	admin common.Address
}

func New(kv storage.KV, admin common.Address) *Registry {
	return &Registry{kv: kv, admin: admin}
}

// Register records a new resident. Only the community admin registers
// residents.
func (r *Registry) Register(caller common.Address, res *Resident) error {
	if caller != r.admin {
		return fmt.Errorf("register resident: caller %s is not the community admin: %w", caller.Hex(), ErrUnauthorized)
	}
	if !res.Type.Valid() {
		return fmt.Errorf("register resident: invalid type %q", res.Type)
	}

	exists, err := r.kv.Has(storage.ResidentKey(res.Address))
	if err != nil {
		return fmt.Errorf("register resident: %w", err)
	}
	if exists {
		return fmt.Errorf("register resident %s: %w", res.Address.Hex(), ErrAlreadyRegistered)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("register resident: marshal: %w", err)
	}
	return r.kv.Set(storage.ResidentKey(res.Address), data)
}

// Get returns the resident record for addr, or nil if not registered.
func (r *Registry) Get(addr common.Address) (*Resident, error) {
	data, found, err := r.kv.Get(storage.ResidentKey(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to get resident %s: %w", addr.Hex(), err)
	}
	if !found {
		return nil, nil
	}

	var res Resident
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resident %s: %w", addr.Hex(), err)
	}
	return &res, nil
}
