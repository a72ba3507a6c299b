package vault

import "errors"

// ErrModulePaused indicates the ledger module as a whole is switched off.
// Unlike a per-source pause it also blocks settlement paths.
var ErrModulePaused = errors.New("vault: module paused")

// PauseView reports whether a named module is currently paused. The ledger
// consults it on every mutating entry point under the "vault" module name.
type PauseView interface {
	IsPaused(module string) bool
}

// guardPaused rejects the operation when the module is paused. A nil view
// means pausing is not wired and the guard passes.
func guardPaused(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
