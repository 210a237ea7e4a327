// Package ratelimit paces requests to the wallpaper archive.
//
// The archive is a small community mirror, so every remote request goes
// through a shared Pacer that keeps a fixed minimum gap between consecutive
// requests. The Pacer is a thin wrapper over golang.org/x/time/rate with a
// burst of one.
//
// Usage:
//
//	pacer := ratelimit.NewPacer(cfg.RateLimit.RequestDelay)
//	if err := pacer.Wait(ctx); err != nil {
//	    return err // context cancelled
//	}
//	// issue request
package ratelimit
