// Package crawler holds the anime-scrapper domain: the records scraped from
// the catalog, detail, and episode pages, the collaborator interfaces the
// pipeline depends on, and the Orchestrator that drives bulk crawls and the
// cached single-title path.
package crawler
