// Package crawler implements the targeted, same-host breadth-first crawl used
// to find investor-relations pages, and the keyword scoring that picks the
// best candidate.
package crawler
