package core

import "context"

// SetAfterSourceRecompute installs a fault hook on a relocation service built by
// NewRelocationService.
func SetAfterSourceRecompute(svc RelocationService, hook func(ctx context.Context) error) {
	svc.(*relocationService).afterSourceRecompute = hook
}
