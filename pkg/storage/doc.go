// Package storage manages the local wallpaper directory.
//
// The Manager keeps an index of item files that count as captured: a file
// named YYYYMM_<id>.jpg in the output root or one of the configured archive
// subdirectories, at least MinFileSize bytes long. Anything smaller is a
// truncated download or an error page and is treated as missing.
//
// New items are always written into the output root through a temporary
// file that is synced and renamed into place.
//
// Usage:
//
//	m, err := storage.NewManager(cfg.Output.BaseDirectory, cfg.Output.ArchiveSubdirs, cfg.Output.MinFileSize)
//	if !m.IsPresent("202403_OHR.Example.jpg") {
//	    _, err = m.WriteItem(body, "202403_OHR.Example.jpg")
//	}
package storage
