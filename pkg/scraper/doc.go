// Package scraper runs the wallsync pipeline end to end.
//
// A Run goes through four stages over one month range:
//
//  1. catalog: month listings are fetched and mapped to calendar dates
//  2. reconcile: the catalog is checked against the output directory and the
//     done months in the progress file are rewritten to match
//  3. sync: every item reconciliation reported missing is downloaded
//  4. reconcile again, so months completed by the sync are marked done
//
// The download stage is skipped entirely when nothing is missing. Only one
// run may touch a state file at a time; a lock file next to it is held for
// the duration of every mutating call.
//
// Usage:
//
//	s, err := scraper.New(cfg, logger.GetLogger())
//	if err != nil {
//	    return err
//	}
//	summary, err := s.Run(ctx, scraper.Options{Range: period.DefaultRange(time.Now())})
//	if err != nil {
//	    return err
//	}
//	if !summary.NothingMissing() {
//	    os.Exit(1)
//	}
package scraper
