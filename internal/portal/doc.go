// Package portal automates the Brisbane Development.i records portal.
//
// Client fetches the application export for a date window and serves the
// per-application document library to the harvester. Every interaction goes
// through the Page interface, which browser.Session implements.
package portal
