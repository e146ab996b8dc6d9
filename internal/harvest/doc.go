// Package harvest downloads the attachments of each record's document
// listing exactly once.
//
// For every record the harvester opens the listing, keeps rows whose text
// matches the document-type pattern and that carry a fileDownload trigger,
// and resolves each to a destination of the form
//
//	<root>/<id> - <address>/<doc folder>/<id>_<name>.<ext>
//
// A row is skipped when that file already exists or the ledger already holds
// the (record, name) pair. Everything else is fetched through a
// download.Policy and recorded in the ledger once it is in place.
package harvest
