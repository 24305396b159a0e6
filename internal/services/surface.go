package services

import "sync/atomic"

// SurfaceState reports whether the learn surface is currently on screen.
// Auto-refresh must not clobber suggestions the user is actively looking at.
type SurfaceState interface {
	Visible() bool
}

// SurfaceTracker is the default SurfaceState: the UI reports visibility
// changes through the HTTP surface.
type SurfaceTracker struct {
	visible atomic.Bool
}

func NewSurfaceTracker() *SurfaceTracker { return &SurfaceTracker{} }

func (t *SurfaceTracker) SetVisible(v bool) { t.visible.Store(v) }
func (t *SurfaceTracker) Visible() bool     { return t.visible.Load() }
