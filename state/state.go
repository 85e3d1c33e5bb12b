// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"riskfortress/emergency"
)

// --- 1. Define Interface ---

// StateManagerInterface defines all capabilities of the state manager for upper-level
// modules (such as Orchestrator) to call. This interface-oriented design decouples
// upper-level modules from the file storage implementation, facilitating testing.
type StateManagerInterface interface {
	// GetFullState returns a deep copy of all current state for startup reconciliation.
	GetFullState() AppState
	// UpdateEmergency replaces the persisted emergency record. A restart must
	// never silently resume trading after a halt, so this is written on every
	// transition.
	UpdateEmergency(e *EmergencyState) error
	// UpdateAccount replaces the persisted account counters.
	UpdateAccount(a *AccountMeta) error
}

// --- 2. Data Structures ---

// EmergencyState is the persisted slice of the emergency controller: enough
// to restore a halted engine and validate the original recovery token. Only
// the token's SHA-256 hash is written to disk.
type EmergencyState struct {
	State               emergency.State     `json:"state"`
	Causes              []emergency.Trigger `json:"causes,omitempty"`
	RecoveryTokenHash   string              `json:"recovery_token_hash,omitempty"`
	UnresolvedPositions bool                `json:"unresolved_positions"`
}

// AccountMeta persists the counters that survive a restart: the equity
// high-water mark (which only ever moves up) and the daily loss window.
type AccountMeta struct {
	HighWaterMark string    `json:"high_water_mark"`
	DailyLoss     string    `json:"daily_loss"`
	DailyTrades   int       `json:"daily_trades"`
	LastRollover  time.Time `json:"last_rollover"`
}

// AppState is the top-level structure persisted to state.json.
type AppState struct {
	Emergency *EmergencyState `json:"emergency"`
	Account   *AccountMeta    `json:"account"`
}

// --- 3. StateManager Implementation ---

// StateManager is the concrete file implementation of StateManagerInterface.
type StateManager struct {
	mu       sync.RWMutex
	filePath string
	state    *AppState
}

// NewStateManager creates and initializes a new state manager.
// Its responsibility is to load existing state, or create a new empty state if it doesn't exist.
func NewStateManager(filePath string) (*StateManager, error) {
	sm := &StateManager{
		filePath: filePath,
		state: &AppState{
			Emergency: &EmergencyState{State: emergency.StateNormal},
			Account:   &AccountMeta{},
		},
	}

	if err := sm.load(); err != nil {
		// File-not-found is normal on first start: continue with empty state.
		if os.IsNotExist(err) {
			fmt.Printf("Info: State file not found at %s. Starting with a fresh state.\n", filePath)
			if err := sm.save(); err != nil {
				return nil, fmt.Errorf("failed to create initial empty state file: %w", err)
			}
			return sm, nil
		}
		return nil, fmt.Errorf("failed to load initial state: %w", err)
	}

	return sm, nil
}

// save performs an atomic write-then-rename while holding the lock.
func (sm *StateManager) save() error {
	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for saving: %w", err)
	}

	tmpFilePath := sm.filePath + ".tmp"
	if err := ioutil.WriteFile(tmpFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write to temporary state file: %w", err)
	}

	return os.Rename(tmpFilePath, sm.filePath)
}

func (sm *StateManager) load() error {
	data, err := ioutil.ReadFile(sm.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	loaded := &AppState{}
	if err := json.Unmarshal(data, loaded); err != nil {
		return fmt.Errorf("failed to unmarshal state file %s: %w", sm.filePath, err)
	}
	if loaded.Emergency == nil {
		loaded.Emergency = &EmergencyState{State: emergency.StateNormal}
	}
	if loaded.Account == nil {
		loaded.Account = &AccountMeta{}
	}
	sm.state = loaded
	return nil
}

// GetFullState returns a deep copy of the current state.
func (sm *StateManager) GetFullState() AppState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	em := *sm.state.Emergency
	em.Causes = append([]emergency.Trigger(nil), sm.state.Emergency.Causes...)
	ac := *sm.state.Account
	return AppState{Emergency: &em, Account: &ac}
}

// UpdateEmergency replaces the persisted emergency record and saves.
func (sm *StateManager) UpdateEmergency(e *EmergencyState) error {
	if e == nil {
		return fmt.Errorf("nil emergency state")
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cp := *e
	cp.Causes = append([]emergency.Trigger(nil), e.Causes...)
	sm.state.Emergency = &cp
	return sm.save()
}

// UpdateAccount replaces the persisted account counters and saves.
func (sm *StateManager) UpdateAccount(a *AccountMeta) error {
	if a == nil {
		return fmt.Errorf("nil account meta")
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cp := *a
	sm.state.Account = &cp
	return sm.save()
}

var _ StateManagerInterface = (*StateManager)(nil)
