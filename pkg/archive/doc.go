// Package archive is the client for the date-indexed wallpaper archive.
//
// The archive publishes one page per month (/archive/<region>/YYYYMM) that
// links to a detail page per item, most recent first and without dates.
// Detail pages carry the caption and links to resized renditions tagged with
// their width (w:3840, w:2560, ...). Originals are also mirrored on a CDN at
// <cdn>/YYYYMM/<id>.jpg.
//
// All requests go through a ratelimit.Limiter so the configured delay holds
// between any two requests, whichever component issues them. Non-2xx
// responses come back as *errors.Error typed by status code; a missing month
// page is not an error and yields an empty listing.
package archive
