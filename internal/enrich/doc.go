// Package enrich joins text extracted from harvested attachments back onto
// the portal export.
//
// Attachment records are rebuilt from the output tree on every run; the
// download ledger is never consulted. Each export row is matched on the
// record id found anywhere in its cells, and a row with several attachments
// appears once per attachment. Rows without a match are kept with empty
// enrichment columns.
package enrich
