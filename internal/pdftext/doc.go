// Package pdftext turns downloaded attachments into plain text.
//
// Text comes from the poppler pdftotext command line tool. Structural checks
// and page counts use pdfcpu and need no external binary.
package pdftext
